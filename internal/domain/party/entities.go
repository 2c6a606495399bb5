package party

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound       = errors.New("party not found")
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrAlreadyExists  = errors.New("party already registered")
)

// Role is the side a party holds on a given loan.
type Role string

const (
	RoleNone     Role = ""
	RoleBorrower Role = "borrower"
	RoleLender   Role = "lender"
)

// Party is a wallet-identified participant with its off-ledger profile.
type Party struct {
	ID          uint64    `gorm:"primaryKey;column:id" json:"-"`
	Address     string    `gorm:"column:address;size:42;uniqueIndex:ux_parties_address" json:"address"`
	FirstName   string    `gorm:"column:first_name;size:100" json:"first_name"`
	LastName    string    `gorm:"column:last_name;size:100" json:"last_name"`
	Email       string    `gorm:"column:email;size:255" json:"email"`
	CreditScore int       `gorm:"column:credit_score" json:"credit_score"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Party) TableName() string { return "parties" }

// DisplayName is the name shown next to a listing.
func (p *Party) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// NormalizeAddress validates a hex wallet address and returns its EIP-55
// checksummed form, so that addresses compare by string equality.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(raw).Hex(), nil
}

// ValidAddress reports whether raw is a hex wallet address.
func ValidAddress(raw string) bool {
	return common.IsHexAddress(strings.TrimSpace(raw))
}
