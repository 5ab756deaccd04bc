package postbox

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// ReadReservations parses address reservations from CSV input with
// "address,code" records. Use the result with WithReservations to seed
// the store on Connect.
func ReadReservations(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	reservations := make(map[string]string)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read reservations: %w", err)
		}
		addr, err := ParseAddress(record[0])
		if err != nil {
			return nil, fmt.Errorf("reservation for %q: %w", record[0], err)
		}
		if record[1] == "" {
			return nil, fmt.Errorf("reservation for %q: empty code", record[0])
		}
		reservations[addr.String()] = record[1]
	}
	return reservations, nil
}

// seedReservations writes configured reservations into the store.
func (s *service) seedReservations(ctx context.Context) error {
	for addr, code := range s.opts.reservations {
		if err := s.store.PutReservation(ctx, addr, code); err != nil {
			return fmt.Errorf("seed reservation for %s: %w", addr, err)
		}
	}
	return nil
}
