package models

import "time"

// DynamicConfig представляет динамически настраиваемый параметр (dot-path ключ, например "points.per_message").
type DynamicConfig struct {
	Key         string    `json:"key" db:"key"`
	Value       string    `json:"value" db:"value"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ConfigUpdatePayload is the body of a config_update_exchange message.
type ConfigUpdatePayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
