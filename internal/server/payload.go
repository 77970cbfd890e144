package server

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/reelview/internal/users"
)

const timestampLayout = "2006-01-02 15:04:05"

// validationError is a client-facing message returned with a 400.
type validationError string

func (e validationError) Error() string {
	return string(e)
}

const (
	errInvalidJSON       validationError = "Invalid JSON data"
	errNoData            validationError = "No data provided"
	errUsernamesNotList  validationError = "Usernames should be a list of strings"
	errUsernameNotString validationError = "All usernames must be strings"
)

// parseUsernames validates {"usernames": [string, ...]} and returns the list.
func parseUsernames(body []byte) ([]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errNoData
	}
	var request map[string]json.RawMessage
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, errInvalidJSON
	}
	if len(request) == 0 {
		return nil, errNoData
	}
	raw, ok := request["usernames"]
	if !ok {
		return nil, errUsernamesNotList
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil || len(elements) == 0 {
		return nil, errUsernamesNotList
	}
	usernames := make([]string, 0, len(elements))
	for _, element := range elements {
		var username string
		if bytes.Equal(bytes.TrimSpace(element), []byte("null")) {
			return nil, errUsernameNotString
		}
		if err := json.Unmarshal(element, &username); err != nil {
			return nil, errUsernameNotString
		}
		usernames = append(usernames, username)
	}
	return usernames, nil
}

type batchResponse map[string]resultPayload

type resultPayload struct {
	Error *string     `json:"error"`
	Data  dataPayload `json:"data"`
}

type dataPayload struct {
	Added       bool         `json:"added"`
	Synced      bool         `json:"synced"`
	Searched    bool         `json:"searched"`
	Suggestions []string     `json:"suggestions"`
	User        *userPayload `json:"user"`
}

type userPayload struct {
	Username   string  `json:"username"`
	AddedAt    string  `json:"added_at"`
	SyncedAt   *string `json:"synced_at"`
	MovieCount int64   `json:"movie_count"`
}

func newBatchResponse(results map[string]users.Result) batchResponse {
	response := make(batchResponse, len(results))
	for username, result := range results {
		suggestions := result.Data.Suggestions
		if suggestions == nil {
			suggestions = []string{}
		}
		payload := resultPayload{
			Error: result.Error,
			Data: dataPayload{
				Added:       result.Data.Added,
				Synced:      result.Data.Synced,
				Searched:    result.Data.Searched,
				Suggestions: suggestions,
			},
		}
		if detail := result.Data.User; detail != nil {
			payload.Data.User = &userPayload{
				Username:   detail.Username,
				AddedAt:    formatTimestamp(detail.AddedAt),
				SyncedAt:   formatOptionalTimestamp(detail.SyncedAt),
				MovieCount: detail.MovieCount,
			}
		}
		response[username] = payload
	}
	return response
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(timestampLayout)
}

func formatOptionalTimestamp(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := formatTimestamp(*value)
	return &formatted
}
