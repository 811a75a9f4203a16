package domain

// DataField names one shareable section of the travel profile. The canonical
// field list is fixed; requests naming anything else are denied rather than
// rejected, so one unknown field cannot sink an otherwise valid request.
type DataField string

const (
	FieldEmployeeInfo       DataField = "employee_info"
	FieldFlightPreferences  DataField = "flight_preferences"
	FieldHotelPreferences   DataField = "hotel_preferences"
	FieldAccessibilityNeeds DataField = "accessibility_needs"
	FieldEmergencyContact   DataField = "emergency_contact"
)

// FieldCategory groups fields for consent purposes. Each category carries one
// consent flag; a field is disclosable only when its category's flag is set.
type FieldCategory string

const (
	CategoryBaseInfo         FieldCategory = "base_info"
	CategoryFlight           FieldCategory = "flight"
	CategoryHotel            FieldCategory = "hotel"
	CategoryAccessibility    FieldCategory = "accessibility"
	CategoryEmergencyContact FieldCategory = "emergency_contact"
)

var fieldCategories = map[DataField]FieldCategory{
	FieldEmployeeInfo:       CategoryBaseInfo,
	FieldFlightPreferences:  CategoryFlight,
	FieldHotelPreferences:   CategoryHotel,
	FieldAccessibilityNeeds: CategoryAccessibility,
	FieldEmergencyContact:   CategoryEmergencyContact,
}

// CategoryOf maps a field to its consent category. The second return is false
// for fields outside the canonical list; such fields are always denied.
func CategoryOf(f DataField) (FieldCategory, bool) {
	c, ok := fieldCategories[f]
	return c, ok
}

// KnownFields returns the canonical field list in declaration order.
func KnownFields() []DataField {
	return []DataField{
		FieldEmployeeInfo,
		FieldFlightPreferences,
		FieldHotelPreferences,
		FieldAccessibilityNeeds,
		FieldEmergencyContact,
	}
}

// ConsentSettings holds the employee's per-category sharing flags plus the
// automated-processing flag that gates any machine requester.
type ConsentSettings struct {
	ShareBaseInfo         bool `json:"share_base_info"`
	ShareFlightPrefs      bool `json:"share_flight_prefs"`
	ShareHotelPrefs       bool `json:"share_hotel_prefs"`
	ShareAccessibility    bool `json:"share_accessibility_needs"`
	ShareEmergencyContact bool `json:"share_emergency_contact"`
	AutomatedProcessing   bool `json:"automated_processing_consent"`
}

// Allows reports whether the settings permit disclosure of the category.
func (s ConsentSettings) Allows(c FieldCategory) bool {
	switch c {
	case CategoryBaseInfo:
		return s.ShareBaseInfo
	case CategoryFlight:
		return s.ShareFlightPrefs
	case CategoryHotel:
		return s.ShareHotelPrefs
	case CategoryAccessibility:
		return s.ShareAccessibility
	case CategoryEmergencyContact:
		return s.ShareEmergencyContact
	}
	return false
}
