package domain

// UserSettings holds per-principal preferences consumed by the orchestrator
// (the selected model, §4.6 step 6) and by out-of-scope routers (dev mode).
type UserSettings struct {
	UserID        PrincipalID `json:"user_id" gorm:"primaryKey;column:user_id"`
	DevMode       bool        `json:"dev_mode" gorm:"column:dev_mode"`
	SelectedModel *string     `json:"selected_model,omitempty" gorm:"column:selected_model"`
}

// TableName specifies the table name for GORM.
func (UserSettings) TableName() string { return "user_settings" }
