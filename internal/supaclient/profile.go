package supaclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

// codeRowNotFound is PostgREST's code for "zero rows returned from a
// single-object request". It means "no profile yet", not "fetch
// failed", and maps to sessionkit.ErrProfileNotFound.
const codeRowNotFound = "PGRST116"

const profilesTable = "user_profiles"

type profileRow struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	FullName    string            `json:"full_name"`
	Tier        string            `json:"tier"`
	Preferences map[string]string `json:"preferences"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (row profileRow) profile() *sessionkit.Profile {
	return &sessionkit.Profile{
		ID:          row.ID,
		Email:       row.Email,
		FullName:    row.FullName,
		Tier:        row.Tier,
		Preferences: row.Preferences,
		UpdatedAt:   row.UpdatedAt,
	}
}

// GetProfile loads the profile row keyed by the user id. The request is
// always scoped by the id so a row can never be attributed to another
// Identity.
func (client *Client) GetProfile(ctx context.Context, userID string) (*sessionkit.Profile, error) {
	path := fmt.Sprintf("/rest/v1/%s?id=eq.%s&select=*", profilesTable, url.QueryEscape(userID))
	request, buildErr := client.newRequest(ctx, http.MethodGet, path, client.bearerToken(), nil)
	if buildErr != nil {
		return nil, fmt.Errorf("supaclient.profile.get: %w", buildErr)
	}
	request.Header.Set("Accept", "application/vnd.pgrst.object+json")

	var row profileRow
	if err := client.do(request, &row); err != nil {
		if isRowNotFound(err) {
			return nil, sessionkit.ErrProfileNotFound
		}
		return nil, fmt.Errorf("supaclient.profile.get: %w", err)
	}
	return row.profile(), nil
}

// UpdateProfile patches partial attributes for the user id and returns
// the server's canonical representation of the merged row.
func (client *Client) UpdateProfile(ctx context.Context, userID string, updates map[string]any) (*sessionkit.Profile, error) {
	payload := make(map[string]any, len(updates)+1)
	for key, value := range updates {
		payload[key] = value
	}
	payload["updated_at"] = client.clock.Now().Format(time.RFC3339)

	path := fmt.Sprintf("/rest/v1/%s?id=eq.%s", profilesTable, url.QueryEscape(userID))
	request, buildErr := client.newRequest(ctx, http.MethodPatch, path, client.bearerToken(), payload)
	if buildErr != nil {
		return nil, fmt.Errorf("supaclient.profile.update: %w", buildErr)
	}
	request.Header.Set("Accept", "application/vnd.pgrst.object+json")
	request.Header.Set("Prefer", "return=representation")

	var row profileRow
	if err := client.do(request, &row); err != nil {
		if isRowNotFound(err) {
			return nil, sessionkit.ErrProfileNotFound
		}
		return nil, fmt.Errorf("supaclient.profile.update: %w", err)
	}
	return row.profile(), nil
}

func (client *Client) bearerToken() string {
	if current := client.currentSession(); current != nil {
		return current.AccessToken
	}
	return ""
}

func isRowNotFound(err error) bool {
	var backendErr *sessionkit.BackendError
	return errors.As(err, &backendErr) && backendErr.Code == codeRowNotFound
}
