// Package admission decides whether a user may open a watch party connection.
// A user is admitted while their purchased plan has not expired.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrPlanAPI     = errors.New("plan api request failed")
	ErrEmptyUserID = errors.New("user id required")
)

type Plan struct {
	Name       string    `json:"name"`
	ExpiryDate time.Time `json:"expiryDate"`
}

// Active reports whether the plan is still paid for at now.
func (p *Plan) Active(now time.Time) bool {
	return p != nil && !p.ExpiryDate.IsZero() && p.ExpiryDate.After(now)
}

// PlanSource looks up a user's current plan. A nil plan with a nil error
// means the user has none.
type PlanSource interface {
	FetchPlan(ctx context.Context, userID string) (*Plan, error)
}

// PlanClient reads plans from the payment service over HTTP.
type PlanClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewPlanClient(baseURL string, timeout time.Duration) *PlanClient {
	return &PlanClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *PlanClient) FetchPlan(ctx context.Context, userID string) (*Plan, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	endpoint := c.BaseURL + "/api/payment/user-plan/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanAPI, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanAPI, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: status %d", ErrPlanAPI, resp.StatusCode)
	}

	var body struct {
		Plan *Plan `json:"plan"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrPlanAPI, err)
	}
	return body.Plan, nil
}
