package store

// Collection and document names of a call session.
const (
	CallsCollection = "calls"

	OfferCandidates  = "offerCandidates"
	AnswerCandidates = "answerCandidates"

	WordsCollection = "words"
	CurrentWordDoc  = "currentWord"

	LocalScoreCollection  = "localScore"
	RemoteScoreCollection = "remoteScore"
	CurrentScoreDoc       = "currentScore"
)

// CallPath is the root document of a call session.
func CallPath(callID string) string {
	return Join(CallsCollection, callID)
}

// CandidatesPath is one of the two append-only candidate collections of a call.
func CandidatesPath(callID, direction string) string {
	return Join(CallsCollection, callID, direction)
}

// WordPath is the current target word document of a call.
func WordPath(callID string) string {
	return Join(CallsCollection, callID, WordsCollection, CurrentWordDoc)
}

// ScorePath is the score document held in the given score collection.
func ScorePath(callID, collection string) string {
	return Join(CallsCollection, callID, collection, CurrentScoreDoc)
}
