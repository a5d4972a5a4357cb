package order

import (
	"fmt"
	"strings"
	"unicode"

	repo "github.com/Additional-Code/umkm/internal/repository/order"
)

const maxNoteLength = 1000

// validateCreate checks a checkout request and merges repeated products into
// one line, keeping the order in which products first appear.
func validateCreate(in CreateInput) ([]LineInput, error) {
	fields := map[string]string{}

	if in.Buyer.UserID == "" {
		fields["buyer"] = "buyer is required"
	}
	if strings.TrimSpace(in.StoreID) == "" {
		fields["store_id"] = "store is required"
	}
	if !validPhone(in.BuyerPhone) {
		fields["buyer_phone"] = "a reachable phone number is required"
	}
	if len(in.Note) > maxNoteLength {
		fields["note"] = fmt.Sprintf("must be at most %d characters", maxNoteLength)
	}
	if len(in.Items) == 0 {
		fields["items"] = "at least one item is required"
	}

	merged := make([]LineInput, 0, len(in.Items))
	index := make(map[string]int, len(in.Items))
	for i, item := range in.Items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			fields[fmt.Sprintf("items[%d].product_id", i)] = "product is required"
			continue
		}
		if item.Quantity < 1 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be at least 1"
			continue
		}
		if at, ok := index[id]; ok {
			merged[at].Quantity += item.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, LineInput{ProductID: id, Quantity: item.Quantity})
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return merged, nil
}

func validateTransition(in TransitionInput) error {
	fields := map[string]string{}
	if in.OrderID == "" {
		fields["order_id"] = "order is required"
	}
	if !in.Target.Valid() {
		fields["status"] = fmt.Sprintf("unknown status %q", in.Target)
	}
	if in.Actor.UserID == "" {
		fields["actor"] = "actor is required"
	}
	if len(in.PaymentNote) > maxNoteLength {
		fields["payment_note"] = fmt.Sprintf("must be at most %d characters", maxNoteLength)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func normalizeFilter(f ListFilter) (repo.ListFilter, error) {
	if f.Status != "" && !f.Status.Valid() {
		return repo.ListFilter{}, &ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", f.Status)}}
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return repo.ListFilter{Status: f.Status, Limit: f.Limit, Offset: f.Offset}, nil
}

// normalizePhone strips spaces and dashes so WhatsApp links can be built from it.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validPhone(raw string) bool {
	phone := strings.TrimPrefix(normalizePhone(raw), "+")
	if len(phone) < 8 || len(phone) > 16 {
		return false
	}
	for _, r := range phone {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
