package oracle

import "fmt"

// Kind classifies an oracle response.
type Kind int

const (
	Unknown Kind = iota
	Valid
	AlreadyRedeemed
	Expired
	Invalid
	MaxUsageReached
	Cooldown
	InvalidCredentials
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "valid"
	case AlreadyRedeemed:
		return "already_redeemed"
	case Expired:
		return "expired"
	case Invalid:
		return "invalid"
	case MaxUsageReached:
		return "max_usage_reached"
	case Cooldown:
		return "cooldown"
	case InvalidCredentials:
		return "invalid_credentials"
	default:
		return "unknown"
	}
}

// Retcodes returned by webExchangeCdkey.
const (
	RetcodeOK                 = 0
	RetcodeInvalidCredentials = -1071
	RetcodeExpired            = -2001
	RetcodeInvalid            = -2003
	RetcodeMaxUsage           = -2006
	RetcodeCooldown           = -2016
	RetcodeRedeemed           = -2017
	RetcodeRedeemedAlt        = -2018
)

// Outcome is the classified result of one validation.
type Outcome struct {
	Kind    Kind
	Retcode int
	Message string
}

// Classify maps a retcode to an Outcome. Unrecognised codes are Unknown.
func Classify(retcode int, message string) Outcome {
	o := Outcome{Retcode: retcode, Message: message}
	switch retcode {
	case RetcodeOK:
		o.Kind = Valid
	case RetcodeRedeemed, RetcodeRedeemedAlt:
		o.Kind = AlreadyRedeemed
	case RetcodeExpired:
		o.Kind = Expired
	case RetcodeInvalid:
		o.Kind = Invalid
	case RetcodeMaxUsage:
		o.Kind = MaxUsageReached
	case RetcodeCooldown:
		o.Kind = Cooldown
	case RetcodeInvalidCredentials:
		o.Kind = InvalidCredentials
	default:
		o.Kind = Unknown
	}
	return o
}

// Active reports the active flag a code gets for this outcome. Only
// Expired, Invalid, and MaxUsageReached deactivate; anything we cannot
// prove dead stays active.
func (o Outcome) Active() bool {
	switch o.Kind {
	case Expired, Invalid, MaxUsageReached:
		return false
	default:
		return true
	}
}

// Fatal reports whether the outcome must abort the whole run.
func (o Outcome) Fatal() bool {
	return o.Kind == InvalidCredentials
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s (retcode %d: %s)", o.Kind, o.Retcode, o.Message)
}
