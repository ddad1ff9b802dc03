package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CaptchaKind is the vendor's captcha_type code.
type CaptchaKind int

const (
	CaptchaNone              CaptchaKind = 0
	CaptchaRecaptcha         CaptchaKind = 1
	CaptchaText              CaptchaKind = 2
	CaptchaRecaptchaAdvanced CaptchaKind = 3
)

func (k CaptchaKind) isRecaptcha() bool {
	return k == CaptchaRecaptcha || k == CaptchaRecaptchaAdvanced
}

func (k CaptchaKind) String() string {
	switch k {
	case CaptchaNone:
		return "none"
	case CaptchaRecaptcha:
		return "recaptcha"
	case CaptchaText:
		return "text"
	case CaptchaRecaptchaAdvanced:
		return "recaptcha-advanced"
	}
	return "captcha(" + strconv.Itoa(int(k)) + ")"
}

const (
	registerStatusSoldOut = "SOLD_OUT"
	defaultRegisterStatus = "OUTSOLD_OUT"
)

// TicketOffering is one ticket type of an event, evaluated at SysTime.
type TicketOffering struct {
	ID         int64
	Name       string
	Price      float64
	Currency   string
	Inventory  int
	HasPending bool
	StartAt    time.Time
	EndAt      time.Time
	SysTime    time.Time
}

func (t TicketOffering) IsStarted() bool {
	return t.SysTime.After(t.StartAt)
}

func (t TicketOffering) IsEnded() bool {
	return t.SysTime.After(t.EndAt)
}

// IsSoldOut is false while orders are pending, even with zero inventory.
func (t TicketOffering) IsSoldOut() bool {
	return t.IsStarted() && !t.IsEnded() && t.Inventory == 0 && !t.HasPending
}

func (t TicketOffering) IsOutOfStock() bool {
	return !t.IsStarted() || t.IsEnded() || t.IsSoldOut()
}

func (t TicketOffering) String() string {
	return fmt.Sprintf("[Ticket] %s $%.2f %s, valid %d, %s-%s",
		t.Name, t.Price, t.Currency, t.Inventory,
		t.StartAt.Format(time.RFC3339), t.EndAt.Format(time.RFC3339))
}

// ShowStatus is a point-in-time saleability snapshot of one event. A
// published ShowStatus is never modified.
type ShowStatus struct {
	EventID          string
	CaptchaKind      CaptchaKind
	CaptchaQuestion  string
	RecaptchaSiteKey string
	RegisterStatus   string
	Tickets          []TicketOffering
}

func (s *ShowStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ShowStatus] id %q %s, %d type of ticket, ", s.EventID, s.RegisterStatus, len(s.Tickets))
	switch {
	case s.CaptchaKind == CaptchaNone:
		b.WriteString("no captcha")
	case s.CaptchaKind == CaptchaText:
		fmt.Fprintf(&b, "text captcha %q", s.CaptchaQuestion)
	default:
		fmt.Fprintf(&b, "recaptcha %q", s.RecaptchaSiteKey)
	}
	for _, t := range s.Tickets {
		b.WriteString("\n")
		b.WriteString(t.String())
	}
	return b.String()
}

// findOffering returns the first open offering with the given name.
func (s *ShowStatus) findOffering(name string) (TicketOffering, bool) {
	if s == nil {
		return TicketOffering{}, false
	}
	for _, t := range s.Tickets {
		if t.Name == name && !t.IsOutOfStock() {
			return t, true
		}
	}
	return TicketOffering{}, false
}

// inventorySnapshot is the page's `inventory.inventory` object.
type inventorySnapshot struct {
	RegisterStatus  string          `json:"registerStatus"`
	TicketInventory map[string]int  `json:"ticketInventory"`
	HasPending      map[string]bool `json:"hasPending"`
}

type baseInfoResponse struct {
	EventData baseInfo `json:"eventData"`
}

type baseInfo struct {
	Event struct {
		CaptchaType int `json:"captcha_type"`
	} `json:"event"`
	Tickets []baseTicket `json:"tickets"`
}

type baseTicket struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price struct {
		Cents    int64  `json:"cents"`
		Currency string `json:"currency"`
	} `json:"price"`
	StartAt              string `json:"start_at"`
	EndAtForRegistration string `json:"end_at_for_registration"`
}

type registerInfoResponse struct {
	KTXCaptcha *struct {
		Question string `json:"question"`
	} `json:"ktx_captcha"`
}

type recaptchaInfo struct {
	SitekeyNormal   string `json:"sitekeyNormal"`
	SitekeyAdvanced string `json:"sitekeyAdvanced"`
}

// captchaMeta is the kind-dependent captcha data fetched for a refresh.
type captchaMeta struct {
	SiteKey  string
	Question string
}

func newShowStatus(eventID string, inv inventorySnapshot, base baseInfo, meta captchaMeta, now time.Time) (*ShowStatus, error) {
	status := &ShowStatus{
		EventID:          eventID,
		CaptchaKind:      CaptchaKind(base.Event.CaptchaType),
		CaptchaQuestion:  meta.Question,
		RecaptchaSiteKey: meta.SiteKey,
		RegisterStatus:   inv.RegisterStatus,
		Tickets:          make([]TicketOffering, 0, len(base.Tickets)),
	}
	if status.RegisterStatus == "" {
		status.RegisterStatus = defaultRegisterStatus
	}

	for _, t := range base.Tickets {
		startAt, err := parseVendorTime(t.StartAt)
		if err != nil {
			return nil, fmt.Errorf("ticket %d start_at: %w", t.ID, err)
		}
		endAt, err := parseVendorTime(t.EndAtForRegistration)
		if err != nil {
			return nil, fmt.Errorf("ticket %d end_at_for_registration: %w", t.ID, err)
		}

		key := strconv.FormatInt(t.ID, 10)
		status.Tickets = append(status.Tickets, TicketOffering{
			ID:         t.ID,
			Name:       t.Name,
			Price:      float64(t.Price.Cents) / 100,
			Currency:   t.Price.Currency,
			Inventory:  inv.TicketInventory[key],
			HasPending: inv.HasPending[key],
			StartAt:    startAt,
			EndAt:      endAt,
			SysTime:    now,
		})
	}
	return status, nil
}
