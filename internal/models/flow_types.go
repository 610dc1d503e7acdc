package models

// StepType represents a named position within a flow
type StepType string

// DataKey represents a key for storing a collected answer
type DataKey string

// Step constants for the cake order flow.
const (
	StepStart            StepType = "START"
	StepMainMenu         StepType = "MAIN_MENU"
	StepAskDate          StepType = "ASK_DATE"
	StepAskCustomPicture StepType = "ASK_CUSTOM_PICTURE"
	StepAskImageUpload   StepType = "ASK_IMAGE_UPLOAD"
	StepAskFlavor        StepType = "ASK_FLAVOR"
	StepAskLayers        StepType = "ASK_LAYERS"
	StepAskSize          StepType = "ASK_SIZE"
	StepAskTiers         StepType = "ASK_TIERS"
	StepAskColor         StepType = "ASK_COLOR"
	StepAskTheme         StepType = "ASK_THEME"
	StepAskIndoors       StepType = "ASK_INDOORS"
	StepAskAC            StepType = "ASK_AC"
	StepAskConfirmation  StepType = "ASK_CONFIRMATION"
	StepComplete         StepType = "COMPLETE" // order saved; data kept for audit
)

// Data key constants for the cake order flow.
const (
	DataKeyEventDate    DataKey = "event_date"
	DataKeyHasPicture   DataKey = "has_picture"
	DataKeyImageURL     DataKey = "image_url"
	DataKeyCakeFlavor   DataKey = "cake_flavor"
	DataKeyNumLayers    DataKey = "num_layers"
	DataKeyCakeSize     DataKey = "cake_size"
	DataKeyNumTiers     DataKey = "num_tiers"
	DataKeyCakeColor    DataKey = "cake_color"
	DataKeyCakeTheme    DataKey = "cake_theme"
	DataKeyVenueIndoors DataKey = "venue_indoors"
	DataKeyVenueAC      DataKey = "venue_ac"
	DataKeyUserID       DataKey = "user_id"
)

// ImageSkipped is stored under DataKeyImageURL when the customer skips the upload.
const ImageSkipped = "SKIPPED"
