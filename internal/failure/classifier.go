package failure

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// DefaultDisplayDuration is used when no rule matches.
const DefaultDisplayDuration = 5 * time.Second

// Rule maps any of its keywords to a message.
type Rule struct {
	Keywords []string
	Message  string
	Duration time.Duration
}

// Classification is the operator-facing rendering of a failure.
type Classification struct {
	Message         string
	DisplayDuration time.Duration
}

// Classifier matches failure text against ordered rules. Matching is a
// case-insensitive substring test and the first matching rule wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier over rules. Keywords are normalized to
// lower case once here.
func NewClassifier(rules []Rule) *Classifier {
	normalized := make([]Rule, len(rules))
	for i, r := range rules {
		kw := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kw[j] = strings.ToLower(k)
		}
		normalized[i] = Rule{Keywords: kw, Message: r.Message, Duration: r.Duration}
	}
	return &Classifier{rules: normalized}
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	return NewClassifier(DefaultRules())
}

// DefaultRules returns the built-in rule set. Order matters: more specific
// rules come first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Keywords: []string{"rate limit", "too many requests", "http 429", "status 429", "error 429"},
			Message:  "The RPC endpoint is rate limiting requests. Wait a moment or switch to a different RPC endpoint.",
			Duration: 8 * time.Second,
		},
		{
			Keywords: []string{"user rejected", "rejected the request", "denied by user", "0x6985"},
			Message:  "The request was rejected in the wallet.",
			Duration: 3 * time.Second,
		},
		{
			Keywords: []string{"wallet not connected", "wallet is locked", "device locked"},
			Message:  "The wallet is locked or not connected.",
			Duration: 5 * time.Second,
		},
		{
			Keywords: []string{"insufficient funds", "insufficient lamports"},
			Message:  "Insufficient balance to pay the transaction fee.",
			Duration: 6 * time.Second,
		},
		{
			Keywords: []string{"blockhash not found", "block height exceeded", "blockhash expired"},
			Message:  "The transaction expired before it was processed. Please retry.",
			Duration: 6 * time.Second,
		},
		{
			Keywords: []string{"timed out", "timeout", "deadline exceeded"},
			Message:  "The operation timed out. Check the device or network and retry.",
			Duration: 6 * time.Second,
		},
		{
			Keywords: []string{"wrong program version"},
			Message:  "This account belongs to an older version of the multisig program and cannot be used here.",
			Duration: 8 * time.Second,
		},
		{
			Keywords: []string{"wrong owner", "not a multisig"},
			Message:  "The address is not an account of the configured multisig program.",
			Duration: 6 * time.Second,
		},
		{
			Keywords: []string{"not found", "account does not exist"},
			Message:  "Account not found. Check the address and the selected network.",
			Duration: 5 * time.Second,
		},
		{
			Keywords: []string{"failed to decode", "incompatible format", "corrupt"},
			Message:  "The account data could not be decoded. It may use an incompatible format.",
			Duration: 8 * time.Second,
		},
		{
			Keywords: []string{"derivation path"},
			Message:  "A derivation path is required for hardware wallet signing.",
			Duration: 5 * time.Second,
		},
		{
			Keywords: []string{"unsupported wallet"},
			Message:  "The connected wallet type is not supported.",
			Duration: 5 * time.Second,
		},
		{
			Keywords: []string{"simulation failed"},
			Message:  "Transaction simulation failed. Review the proposal before retrying.",
			Duration: 8 * time.Second,
		},
		{
			Keywords: []string{"already approved", "alreadyapproved"},
			Message:  "This member has already approved the proposal.",
			Duration: 4 * time.Second,
		},
		{
			Keywords: []string{"already executed", "invalidproposalstatus"},
			Message:  "The proposal is not in a state that allows this action.",
			Duration: 5 * time.Second,
		},
	}
}

// ClassifyText classifies raw failure text.
func (c *Classifier) ClassifyText(text string) Classification {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				d := r.Duration
				if d <= 0 {
					d = DefaultDisplayDuration
				}
				return Classification{Message: r.Message, DisplayDuration: d}
			}
		}
	}
	return Classification{Message: text, DisplayDuration: DefaultDisplayDuration}
}

// Classify classifies err. A nil error yields the zero Classification.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	return c.ClassifyText(err.Error())
}

// Annotate attaches the classification of err without changing its kind or
// chain. Classification never influences retry decisions.
func (c *Classifier) Annotate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := DisplayOf(err); ok {
		return err
	}
	cl := c.Classify(err)

	var e *Error
	if errors.As(err, &e) && e == err {
		cp := *e
		cp.Display = &cl
		return &cp
	}
	return &Error{Kind: KindOf(err), Err: err, Display: &cl}
}
