/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that are
  already shaped for clients (points.Account, signin.Status, ...) are
  returned as-is; the types here cover requests and the responses that
  combine several domain values.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

VALIDATION:
  Request bodies carry validator tags and are checked in decodeJSON.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wordcheck/points-engine/carousel"
	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/usage"
)

// =============================================================================
// POINTS
// =============================================================================

// AccountDTO is an account plus progress toward the next level.
type AccountDTO struct {
	points.Account
	LevelProgress decimal.Decimal `json:"levelProgress"`
}

func toAccountDTO(a points.Account) AccountDTO {
	return AccountDTO{
		Account:       a,
		LevelProgress: points.LevelFor(a.TotalEarned).Progress(a.TotalEarned),
	}
}

// MutationDTO is the response to any balance change.
type MutationDTO struct {
	Account AccountDTO               `json:"account"`
	Record  points.TransactionRecord `json:"record"`
}

// AdjustmentRequest is an administrator's manual balance change.
type AdjustmentRequest struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Delta  int64  `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=200"`
	Remark string `json:"remark" validate:"max=500"`
}

// =============================================================================
// SIGN-IN
// =============================================================================

// SignInDTO is the response to a successful sign-in.
type SignInDTO struct {
	Date           points.Day `json:"date"`
	PointsAwarded  int64      `json:"pointsAwarded"`
	ContinuousDays int        `json:"continuousDays"`
	TotalSignDays  int        `json:"totalSignDays"`
	Account        AccountDTO `json:"account"`
	RecordID       int64      `json:"recordId"`
}

// =============================================================================
// AI CHECKS
// =============================================================================

// CheckRequest asks for a charged AI check.
type CheckRequest struct {
	ModelID   string `json:"modelId" validate:"required"`
	Content   string `json:"content" validate:"required,max=200000"`
	CheckType string `json:"checkType" validate:"max=32"`
}

// CheckDTO is the result of a charged check.
type CheckDTO struct {
	HistoryID  string     `json:"historyId"`
	Result     string     `json:"result"`
	PointsCost int64      `json:"pointsCost"`
	Account    AccountDTO `json:"account"`
	RecordID   int64      `json:"recordId"`
}

// ModelDTO is one priced model.
type ModelDTO struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Provider string         `json:"provider"`
	Timeout  int            `json:"timeoutSeconds"`
	Pricing  points.Pricing `json:"pricing"`
}

func toModelDTO(m usage.Model) ModelDTO {
	return ModelDTO{
		ID:       m.ID,
		Name:     m.Name,
		Provider: m.Provider,
		Timeout:  int(m.Timeout / time.Second),
		Pricing:  m.Pricing,
	}
}

// =============================================================================
// CAROUSELS
// =============================================================================

// CarouselRequest creates or updates a banner.
type CarouselRequest struct {
	Title       string     `json:"title" validate:"required,max=100"`
	Description string     `json:"description" validate:"max=500"`
	ImageURL    string     `json:"imageUrl" validate:"required,url"`
	LinkType    string     `json:"linkType" validate:"omitempty,oneof=page web miniprogram"`
	LinkURL     string     `json:"linkUrl"`
	AppID       string     `json:"appId"`
	Sort        int        `json:"sort"`
	Enabled     bool       `json:"enabled"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
}

func (r CarouselRequest) toCarousel(id int64) carousel.Carousel {
	return carousel.Carousel{
		ID:          id,
		Title:       r.Title,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		LinkType:    carousel.LinkType(r.LinkType),
		LinkURL:     r.LinkURL,
		AppID:       r.AppID,
		Sort:        r.Sort,
		Enabled:     r.Enabled,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
