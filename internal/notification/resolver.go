package notification

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// BroadcastTopic reaches every subscriber of the app.
	BroadcastTopic = "newPosts"
	// InstitutionTopicPrefix is prepended to an institution id to build its topic.
	InstitutionTopicPrefix = "institution_"
	// AllInstitutions is the targetInstitutionId value meaning "everyone".
	AllInstitutions = "all"

	maxBodyLength   = 100
	truncationMark  = "..."
	titleField      = "title"
	descField       = "description"
	targetInstField = "targetInstitutionId"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidField      = errors.New("invalid field type")
)

// Message is the unit handed to the dispatcher.
type Message struct {
	Topic string
	Title string
	Body  string
}

type rule func(Record) (Message, error)

var rules = map[Collection]rule{
	EventsCollection:    resolveEvent,
	BulletinsCollection: resolveBulletin,
}

// Supported reports whether the resolver knows how to route records of c.
func Supported(c Collection) bool {
	_, ok := rules[c]
	return ok
}

// Resolve maps a record of the given collection to the notification that
// should be sent for it. It performs no I/O.
func Resolve(c Collection, r Record) (Message, error) {
	fn, ok := rules[c]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return fn(r)
}

func resolveEvent(r Record) (Message, error) {
	title, desc, err := titleAndDescription(r)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Topic: BroadcastTopic,
		Title: "New event: " + title,
		Body:  Truncate(desc),
	}, nil
}

func resolveBulletin(r Record) (Message, error) {
	title, desc, err := titleAndDescription(r)
	if err != nil {
		return Message{}, err
	}

	target, err := optionalString(r, targetInstField)
	if err != nil {
		return Message{}, err
	}

	topic := BroadcastTopic
	if target != "" && target != AllInstitutions {
		topic = InstitutionTopicPrefix + target
	}

	return Message{
		Topic: topic,
		Title: "New bulletin: " + title,
		Body:  Truncate(desc),
	}, nil
}

// Truncate keeps the first 100 characters of s and appends "..." when
// anything was cut. Counting is per code point, not per word.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxBodyLength {
		return s
	}
	return string(runes[:maxBodyLength]) + truncationMark
}

func titleAndDescription(r Record) (string, string, error) {
	title, err := requiredString(r, titleField)
	if err != nil {
		return "", "", err
	}
	desc, err := requiredString(r, descField)
	if err != nil {
		return "", "", err
	}
	return title, desc, nil
}

func requiredString(r Record, field string) (string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrInvalidField, field, v)
	}
	return s, nil
}

// optionalString returns "" when the field is absent or null.
func optionalString(r Record, field string) (string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", nil
	}
	// Numeric ids are accepted and rendered in their shortest form.
	switch v := v.(type) {
	case string:
		return v, nil
	case int, int32, int64:
		return fmt.Sprint(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: %s is %T, want string or number", ErrInvalidField, field, v)
}
