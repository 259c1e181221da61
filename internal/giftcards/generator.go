package giftcards

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

// codeAlphabet leaves out 0, O, 1 and I so codes can be read aloud
const (
	codeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeGroups    = 4
	codeGroupSize = 4
	// CodeLength is the length of a formatted card code including dashes
	CodeLength = codeGroups*codeGroupSize + codeGroups - 1
)

// CodeGenerator produces candidate card codes
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws XXXX-XXXX-XXXX-XXXX codes from a random source
type RandomCodeGenerator struct {
	source io.Reader
}

// NewCodeGenerator returns a generator backed by crypto/rand
func NewCodeGenerator() *RandomCodeGenerator {
	return &RandomCodeGenerator{source: rand.Reader}
}

// Generate returns one candidate code
func (g *RandomCodeGenerator) Generate() (string, error) {
	buf := make([]byte, codeGroups*codeGroupSize)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var sb strings.Builder
	sb.Grow(CodeLength)
	for i, b := range buf {
		if i > 0 && i%codeGroupSize == 0 {
			sb.WriteByte('-')
		}
		// 256 is a multiple of 32, so the modulo is unbiased
		sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return sb.String(), nil
}

// NormalizeCode upper-cases and trims a user supplied code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// uniqueCode generates codes until the store reports one as free. attempts
// is shared with the caller so that collisions found at insert time draw
// from the same budget.
func (s *Service) uniqueCode(ctx context.Context, attempts *int) (string, error) {
	for *attempts < s.policy.MaxCodeAttempts {
		*attempts++
		code, err := s.generator.Generate()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInfrastructure, err)
		}

		exists, err := s.cards.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("%w: failed to check card code: %w", ErrInfrastructure, err)
		}
		if !exists {
			return code, nil
		}

		logger.WithContext(ctx).Warn("Card code collision",
			zap.Int("attempt", *attempts),
		)
	}
	return "", ErrGenerationExhausted
}

// batchCodes generates n codes distinct within the batch. Clashes with
// stored cards surface at insert time as ErrDuplicateCode.
func (s *Service) batchCodes(n int) ([]string, error) {
	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	misses := 0
	for len(codes) < n {
		code, err := s.generator.Generate()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
		}
		if _, dup := seen[code]; dup {
			misses++
			if misses >= s.policy.MaxCodeAttempts {
				return nil, ErrGenerationExhausted
			}
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func isDuplicateCode(err error) bool {
	return errors.Is(err, ErrDuplicateCode)
}
