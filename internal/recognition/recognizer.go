// Package recognition talks to the third-party facial recognition API.
// The API is an opaque collaborator: it either matches an image to a subject
// with some confidence or it does not; everything else is transport.
package recognition

import "context"

// Match is the recognition outcome for one image.
type Match struct {
	Recognized bool
	Confidence float64
	SubjectID  string
}

// Recognizer identifies and enrolls subjects.
type Recognizer interface {
	// Identify matches the image against the enrolled subject. An unknown
	// subject is not an error: it returns Match{Recognized: false}.
	Identify(ctx context.Context, userID string, image []byte) (Match, error)
	// Enroll registers the image as the subject's reference face.
	Enroll(ctx context.Context, userID string, image []byte) error
}
