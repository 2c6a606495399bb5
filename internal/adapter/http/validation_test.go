package http

import (
	"errors"
	"strings"
	"testing"
)

func TestWalletValidation(t *testing.T) {
	type P struct {
		Address string `validate:"wallet"`
	}
	cv := NewValidator()

	for _, s := range []string{
		"0x1111111111111111111111111111111111111111",
		"0xAbCdEf0123456789abcdef0123456789ABCDEF01",
		"abcdef0123456789abcdef0123456789abcdef01", // no 0x prefix
	} {
		if err := cv.Validate(P{Address: s}); err != nil {
			t.Fatalf("expected valid wallet for %q, got err: %v", s, err)
		}
	}

	for _, s := range []string{
		"",
		"0x1234",
		"0x" + strings.Repeat("g", 40),
		"0x" + strings.Repeat("1", 41),
		"alice",
	} {
		err := cv.Validate(P{Address: s})
		if err == nil {
			t.Fatalf("expected error for %q", s)
		}
		if !containsFieldMsg(ToFieldErrors(err), "Address", "20-byte hex address") {
			t.Fatalf("expected wallet message for %q, got: %+v", s, ToFieldErrors(err))
		}
	}
}

func TestDecimalValidation(t *testing.T) {
	type P struct {
		Amount string `validate:"decimal"`
	}
	cv := NewValidator()

	for _, v := range []string{"1", "0.5", "1.000000000000000001", "-3", "1e3"} {
		if err := cv.Validate(P{Amount: v}); err != nil {
			t.Fatalf("expected decimal OK for %q, got %v", v, err)
		}
	}
	for _, v := range []string{"", "abc", "1,5", "1.2.3"} {
		err := cv.Validate(P{Amount: v})
		if err == nil {
			t.Fatalf("expected decimal error for %q", v)
		}
		if !containsFieldMsg(ToFieldErrors(err), "Amount", "decimal number") {
			t.Fatalf("expected 'decimal number' for %q, got %+v", v, ToFieldErrors(err))
		}
	}
}

func TestRequiredAndBoundsMapping(t *testing.T) {
	type P struct {
		Name  string `validate:"required"`
		Min   int    `validate:"gte=10"`
		Max   int    `validate:"lte=5"`
		Email string `validate:"omitempty,email"`
		Short string `validate:"max=3"`
	}
	cv := NewValidator()

	err := cv.Validate(P{Name: "", Min: 9, Max: 6, Email: "nope", Short: "toolong"})
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	fe := ToFieldErrors(err)

	if !containsFieldMsg(fe, "Name", "is required") {
		t.Fatalf("missing 'is required' for Name: %+v", fe)
	}
	if !containsFieldMsg(fe, "Min", "greater than or equal to 10") {
		t.Fatalf("missing gte message for Min: %+v", fe)
	}
	if !containsFieldMsg(fe, "Max", "less than or equal to 5") {
		t.Fatalf("missing lte message for Max: %+v", fe)
	}
	if !containsFieldMsg(fe, "Email", "email address") {
		t.Fatalf("missing email message: %+v", fe)
	}
	if !containsFieldMsg(fe, "Short", "at most 3 characters") {
		t.Fatalf("missing max message: %+v", fe)
	}
}

func TestToFieldErrors_NonValidation(t *testing.T) {
	err := errors.New("boom")
	fe := ToFieldErrors(err)
	if len(fe) != 1 {
		t.Fatalf("expected 1 field error, got %d", len(fe))
	}
	if fe[0].Field != "_" || fe[0].Message != "boom" {
		t.Fatalf("unexpected mapping: %+v", fe[0])
	}
}
