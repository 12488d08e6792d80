package account

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the kind of an account.
type Type string

const (
	TypePrivate  Type = "PRIVATE"
	TypeBusiness Type = "BUSINESS"
	TypeMaster   Type = "MASTER"
)

// DefaultMasterAccountNumber is the well-known number of the master account
// when none is configured.
const DefaultMasterAccountNumber int64 = 1

// ParseType converts a raw string into a Type. The comparison is case-insensitive.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", WrapValidation("unknown account type %q", raw)
	}
	return t, nil
}

// IsValid reports whether t is one of the known account types.
func (t Type) IsValid() bool {
	switch t {
	case TypePrivate, TypeBusiness, TypeMaster:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

// Account is a balance-holding record keyed by its account number.
type Account struct {
	AccountNumber int64           `json:"accountNumber"`
	Balance       decimal.Decimal `json:"balance"`
	OwnerIDs      []string        `json:"ownersIds"`
	Type          Type            `json:"accountType"`

	// Version is bumped by every balance write and is the
	// compare-and-swap token for SetBalance.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsMaster reports whether the account is the master account.
func (a *Account) IsMaster() bool {
	return a.Type == TypeMaster
}

// Clone returns a deep copy so callers never share the owner slice with a store.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.OwnerIDs = append([]string(nil), a.OwnerIDs...)
	return &c
}

// ValidateNew checks the fields of an account about to be inserted through
// the public creation path.
func ValidateNew(a *Account) error {
	if a == nil {
		return WrapValidation("account is required")
	}
	if a.AccountNumber <= 0 {
		return WrapValidation("account number must be positive, got %d", a.AccountNumber)
	}
	if len(a.OwnerIDs) == 0 {
		return WrapValidation("account must have at least one owner")
	}
	if !a.Type.IsValid() {
		return WrapValidation("unknown account type %q", a.Type)
	}
	if a.Type == TypeMaster {
		return WrapValidation("cannot add master account")
	}
	return nil
}
