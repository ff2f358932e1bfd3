package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// schemaFor returns a fresh payload struct for subjects with a declared
// schema, or nil for subjects that accept any valid JSON.
func schemaFor(subject string) any {
	if strings.HasPrefix(subject, SubjectTaskEnqueued+".") {
		return &TaskEnqueuedPayload{}
	}
	switch subject {
	case SubjectTaskResult:
		return &TaskResultPayload{}
	case SubjectNegotiationOpened:
		return &NegotiationOpenedPayload{}
	case SubjectNegotiationClosed:
		return &NegotiationClosedPayload{}
	case SubjectPredictionFlagged:
		return &PredictionFlaggedPayload{}
	case SubjectDigestPublished:
		return &DigestPublishedPayload{}
	}
	return nil
}

// Validate checks that data is valid JSON and, for subjects with a
// declared schema, that it unmarshals into that schema. Unknown subjects
// pass so new message types can ship before every consumer upgrades.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	target := schemaFor(subject)
	if target == nil {
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
