package gateway

import (
	"encoding/json"

	"github.com/google/uuid"

	apperrors "github.com/charlsef23/Zymetrik-sub001/pkg/errors"
)

// The get_or_create_dm response shape is not contractually stable across
// backend versions, so the id is recovered through an explicit ordered list
// of decode strategies; the first successfully-parsed UUID wins.
var conversationIDStrategies = []func(json.RawMessage) (string, bool){
	keyedFieldID,
	genericFieldID,
	singletonRowID,
	scalarID,
}

func parseConversationID(raw json.RawMessage) (string, error) {
	for _, strategy := range conversationIDStrategies {
		if id, ok := strategy(raw); ok {
			return id, nil
		}
	}
	return "", apperrors.Decode("gateway: get_or_create_dm response matched no known shape", nil)
}

// {"get_or_create_dm": "<uuid>"} — object field keyed by the RPC's own name.
func keyedFieldID(raw json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	return stringUUID(obj[fnGetOrCreateDM])
}

// {"id": "<uuid>"}
func genericFieldID(raw json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	return stringUUID(obj["id"])
}

// [<anything the earlier shapes accept>] — a one-element row wrapper.
func singletonRowID(raw json.RawMessage) (string, bool) {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) != 1 {
		return "", false
	}
	if id, ok := keyedFieldID(rows[0]); ok {
		return id, true
	}
	if id, ok := genericFieldID(rows[0]); ok {
		return id, true
	}
	return stringUUID(rows[0])
}

// "<uuid>" — a bare quoted scalar.
func scalarID(raw json.RawMessage) (string, bool) {
	return stringUUID(raw)
}

func stringUUID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", false
	}
	return s, true
}
