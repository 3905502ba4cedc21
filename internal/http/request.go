package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bilancio/internal/core"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// decodeJSON reads the request body into dst, rejecting oversized bodies,
// unknown fields and trailing garbage.
func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// Amounts travel as decimal strings ("12.34") so clients never deal in
// floats; dates as YYYY-MM-DD.

type transactionRequest struct {
	OwnerID     int64  `json:"owner_id"`
	AccountID   int64  `json:"account_id"`
	CategoryID  int64  `json:"category_id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

func (req transactionRequest) toTransaction() (core.Transaction, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("invalid amount %q: %w", req.Amount, err)
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("invalid date %q: %w", req.Date, err)
	}
	return core.Transaction{
		OwnerID:     req.OwnerID,
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Type:        core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Amount:      core.Money{Cents: cents},
		Description: sanitizeInput(req.Description),
		Date:        date,
	}, nil
}

type accountRequest struct {
	OwnerID        int64  `json:"owner_id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Currency       string `json:"currency"`
	InitialBalance string `json:"initial_balance"`
}

func (req accountRequest) toAccount() (core.Account, error) {
	a := core.Account{
		OwnerID:  req.OwnerID,
		Name:     sanitizeInput(req.Name),
		Type:     core.AccountType(strings.ToLower(strings.TrimSpace(req.Type))),
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Active:   true,
	}
	if a.Currency == "" {
		a.Currency = "EUR"
	}
	// Opening balances may be negative (credit cards) or absent.
	if s := strings.TrimSpace(req.InitialBalance); s != "" && s != "0" {
		neg := strings.HasPrefix(s, "-")
		cents, err := core.ParseDecimalToCents(strings.TrimPrefix(s, "-"))
		if err != nil {
			return core.Account{}, fmt.Errorf("invalid initial_balance %q: %w", req.InitialBalance, err)
		}
		if neg {
			cents = -cents
		}
		a.Balance = core.Money{Cents: cents}
	}
	return a, nil
}

type categoryRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID int64  `json:"parent_id"`
}

func (req categoryRequest) toCategory() core.Category {
	return core.Category{
		OwnerID:  req.OwnerID,
		Name:     sanitizeInput(req.Name),
		Type:     core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		ParentID: req.ParentID,
		Active:   true,
	}
}

type budgetRequest struct {
	OwnerID    int64  `json:"owner_id"`
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
	Planned    string `json:"planned"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

func (req budgetRequest) toBudget() (core.Budget, error) {
	cents, err := core.ParseDecimalToCents(req.Planned)
	if err != nil {
		return core.Budget{}, fmt.Errorf("invalid planned %q: %w", req.Planned, err)
	}
	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		return core.Budget{}, fmt.Errorf("invalid start_date %q: %w", req.StartDate, err)
	}
	end, err := core.ParseDate(req.EndDate)
	if err != nil {
		return core.Budget{}, fmt.Errorf("invalid end_date %q: %w", req.EndDate, err)
	}
	return core.Budget{
		OwnerID:    req.OwnerID,
		CategoryID: req.CategoryID,
		Name:       sanitizeInput(req.Name),
		Planned:    core.Money{Cents: cents},
		StartDate:  start,
		EndDate:    end,
		Active:     true,
	}, nil
}
