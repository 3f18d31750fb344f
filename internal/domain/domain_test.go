package domain_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		want string
	}{
		{"5000.00", true, "5000"},
		{"0.01", true, "0.01"},
		{" 12.5 ", true, "12.5"},
		{"0", false, ""},
		{"-5.00", false, ""},
		{"1.005", false, ""},
		{"abc", false, ""},
		{"", false, ""},
	}
	for _, tc := range cases {
		got, err := domain.ParseAmount(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("ParseAmount(%q): unexpected error %v", tc.in, err)
				continue
			}
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tc.in, got, tc.want)
			}
			continue
		}
		var invalid *domain.ErrInvalidAmount
		if !errors.As(err, &invalid) {
			t.Errorf("ParseAmount(%q): expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestValidateOpeningBalance(t *testing.T) {
	if err := domain.ValidateOpeningBalance(decimal.Zero); err != nil {
		t.Errorf("zero opening balance should be accepted, got %v", err)
	}
	if err := domain.ValidateOpeningBalance(decimal.RequireFromString("5000.00")); err != nil {
		t.Errorf("positive opening balance should be accepted, got %v", err)
	}
	if err := domain.ValidateOpeningBalance(decimal.RequireFromString("-1")); err == nil {
		t.Error("negative opening balance should be rejected")
	}
}

func TestIsAccountNumber(t *testing.T) {
	valid := []string{"ACC0000000000", "ACC1234567890"}
	invalid := []string{"", "ACC123", "acc1234567890", "ACC12345678901", "ACC12345X7890", "XYZ1234567890"}

	for _, s := range valid {
		if !domain.IsAccountNumber(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if domain.IsAccountNumber(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestLockOrder(t *testing.T) {
	got := domain.LockOrder("b", "a", "b", "c")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LockOrder = %v, want %v", got, want)
	}

	// argument order must not matter
	if !reflect.DeepEqual(domain.LockOrder("x", "y"), domain.LockOrder("y", "x")) {
		t.Error("LockOrder depends on argument order")
	}
}

func TestParseTransactionKind(t *testing.T) {
	if k, ok := domain.ParseTransactionKind("deposit"); !ok || k != domain.KindDeposit {
		t.Errorf("expected DEPOSIT, got %q %v", k, ok)
	}
	if _, ok := domain.ParseTransactionKind("REFUND"); ok {
		t.Error("REFUND is not a transaction kind")
	}
}

func TestTransactionFilter_Matches(t *testing.T) {
	a, b := "acc-a", "acc-b"
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := &domain.Transaction{
		ID:            "tx-1",
		FromAccountID: &a,
		ToAccountID:   &b,
		Kind:          domain.KindTransfer,
		OccurredAt:    now,
	}

	cases := []struct {
		name   string
		filter domain.TransactionFilter
		want   bool
	}{
		{"empty", domain.TransactionFilter{}, true},
		{"sender", domain.TransactionFilter{AccountIDs: []string{a}}, true},
		{"receiver", domain.TransactionFilter{AccountIDs: []string{b}}, true},
		{"other account", domain.TransactionFilter{AccountIDs: []string{"acc-c"}}, false},
		{"kind mismatch", domain.TransactionFilter{Kind: domain.KindDeposit}, false},
		{"inside range", domain.TransactionFilter{Since: now.Add(-time.Hour), Until: now.Add(time.Hour)}, true},
		{"before range", domain.TransactionFilter{Since: now.Add(time.Minute)}, false},
		{"id", domain.TransactionFilter{ID: "tx-2"}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(tx); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&domain.ErrNotFound{Resource: "account", ID: "x"}, "not_found"},
		{fmt.Errorf("wrapped: %w", &domain.ErrInvalidAmount{Amount: "-1"}), "invalid_amount"},
		{&domain.ErrSameAccount{AccountID: "x"}, "same_account"},
		{&domain.ErrInsufficientFunds{AccountID: "x"}, "insufficient_funds"},
		{&domain.ErrInternal{Op: "commit", Err: errors.New("disk full")}, "internal"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := domain.ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
