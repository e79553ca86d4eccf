package protocol

import (
	"github.com/relativeprotocol/zoneclient/model"
)

// Validate enforces the boundary limits on a command before it is sent. The
// server applies the same rules, so a command that passes may still be
// rejected with a CommandError.
func Validate(cmd Command) error {
	switch c := cmd.(type) {
	case CreateZone:
		if err := model.ValidateTag("zone name", c.Name); err != nil {
			return err
		}
		if err := model.ValidateMetadata("zone metadata", c.Metadata); err != nil {
			return err
		}
		if err := model.ValidateMember(c.EquityOwner); err != nil {
			return err
		}
		return model.ValidateAccount(c.EquityAccount)
	case JoinZone, QuitZone:
		return nil
	case CreateMember:
		return model.ValidateMember(c.Member)
	case UpdateMember:
		if c.Member.ID == "" {
			return &ValidationError{Field: "member id", Reason: "required"}
		}
		return model.ValidateMember(c.Member)
	case CreateAccount:
		return model.ValidateAccount(c.Account)
	case UpdateAccount:
		if c.Account.ID == "" {
			return &ValidationError{Field: "account id", Reason: "required"}
		}
		return model.ValidateAccount(c.Account)
	case AddTransaction:
		if c.From == "" || c.To == "" {
			return &ValidationError{Field: "account id", Reason: "required"}
		}
		if c.From == c.To {
			return &ValidationError{Field: "to", Reason: "must differ from source account"}
		}
		if err := model.ValidateTag("description", c.Description); err != nil {
			return err
		}
		return model.ValidateValue(c.Value)
	case SetZoneName:
		return model.ValidateTag("zone name", c.Name)
	default:
		return &ValidationError{Field: "command", Reason: "unsupported command type"}
	}
}
