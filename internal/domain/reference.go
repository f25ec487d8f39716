package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	referencePrefix = "TXN"
	// ReferenceModulus bounds the numeric part to eight digits.
	ReferenceModulus = 100_000_000
)

// FormatReference renders TXN-<year>-<8 digits>.
func FormatReference(year int, n uint64) string {
	return fmt.Sprintf("%s-%d-%08d", referencePrefix, year, n%ReferenceModulus)
}

// ParseReference splits a reference into its year and sequence number.
func ParseReference(ref string) (year int, seq uint64, err error) {
	parts := strings.Split(ref, "-")
	if len(parts) != 3 || parts[0] != referencePrefix || len(parts[1]) != 4 || len(parts[2]) != 8 {
		return 0, 0, &ErrValidation{Field: "reference", Message: fmt.Sprintf("malformed reference %q", ref)}
	}
	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, &ErrValidation{Field: "reference", Message: fmt.Sprintf("malformed year in %q", ref)}
	}
	seq, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, 0, &ErrValidation{Field: "reference", Message: fmt.Sprintf("malformed sequence in %q", ref)}
	}
	return year, seq, nil
}
