package model

import "encoding/json"

// ActiveFlag tolerates the upstream's mixed encodings of isActive:
// bool, "true"/"false", "0"/"1", numbers. An absent field reads as active.
type ActiveFlag struct {
	set   bool
	value bool
}

func (f *ActiveFlag) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		f.set, f.value = true, t
	case string:
		f.set, f.value = true, t != "false" && t != "0" && t != ""
	case float64:
		f.set, f.value = true, t != 0
	default:
		// null or unexpected shape: treat as absent
		f.set = false
	}
	return nil
}

func (f ActiveFlag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Active())
}

func (f ActiveFlag) Active() bool {
	return !f.set || f.value
}

type Medicine struct {
	ID          string     `json:"_id"`
	Name        string     `json:"name"`
	GenericName string     `json:"genericName,omitempty"`
	Category    string     `json:"category"`
	Price       float64    `json:"price"`
	Stock       int        `json:"stock"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	IsActive    ActiveFlag `json:"isActive"`
}

type Pagination struct {
	Current int  `json:"current"`
	Pages   int  `json:"pages"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// MedicinePage is one page of the catalog as served upstream.
type MedicinePage struct {
	Medicines  []Medicine `json:"medicines"`
	Pagination Pagination `json:"pagination"`
}

// MedicineQuery is the catalog list request. Zero values mean "not
// set" and are left out of outgoing requests and cache keys; the
// category sentinel "all" counts as unset too.
type MedicineQuery struct {
	Page      int
	Limit     int
	Category  string
	MinPrice  *float64
	MaxPrice  *float64
	SortBy    string
	SortOrder string
	Search    string
}

type CartItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"` // unit price captured at add time
	Quantity  int     `json:"quantity"`
}

type Cart struct {
	Items       []CartItem `json:"items"`
	TotalItems  int        `json:"totalItems"`
	TotalAmount float64    `json:"totalAmount"`
}

type BookingStatus string

const (
	StatusPending         BookingStatus = "pending"
	StatusConfirmed       BookingStatus = "confirmed"
	StatusSampleCollected BookingStatus = "sample_collected"
	StatusProcessing      BookingStatus = "processing"
	StatusCompleted       BookingStatus = "completed"
	StatusCancelled       BookingStatus = "cancelled"
	StatusRejected        BookingStatus = "rejected"
	StatusVerified        BookingStatus = "verified"

	// StatusOverduePatientNotPresent is derived, never stored upstream.
	StatusOverduePatientNotPresent BookingStatus = "overdue_patient_not_present"
)

type LabBooking struct {
	ID              string        `json:"_id"`
	TestName        string        `json:"testName,omitempty"`
	AppointmentDate string        `json:"appointmentDate"` // YYYY-MM-DD
	TimeSlot        string        `json:"timeSlot"`        // "8:00 AM - 9:00 AM"
	Status          BookingStatus `json:"status"`
}
