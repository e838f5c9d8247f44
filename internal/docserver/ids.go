package docserver

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/store"
)

// NewID returns the id generator used by the server's store: memorable
// word ids for call sessions, UUIDs for everything else. The store retries
// when an id is already taken.
func NewID(collection string) string {
	if collection == store.CallsCollection {
		return generateCallID()
	}
	return uuid.NewString()
}

// generateCallID picks one word from each word list, visiting the lists in
// random order (e.g. "otter-cozy-ramen-comet").
func generateCallID() string {
	order := make([]int, len(wordLists))
	for i := range order {
		order[i] = i
	}
	for i := len(order) - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		order[i], order[j] = order[j], order[i]
	}

	words := make([]string, 0, len(order))
	for _, idx := range order {
		list := wordLists[idx]
		words = append(words, list[randomIndex(len(list))])
	}
	return strings.Join(words, "-")
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		log.Panic().Err(err).Msg("failed to generate random index")
	}
	return int(n.Int64())
}
