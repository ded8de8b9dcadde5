package domain

import (
	"strings"
	"time"
)

// Tick is one "productive for one more second" signal from the activity
// probe. A probe sends AppName, WindowTitle or both.
type Tick struct {
	UserID      string    `json:"user_id"`
	AppName     string    `json:"app_name"`
	WindowTitle string    `json:"window_title,omitempty"`
	Productive  bool      `json:"productive"`
	At          time.Time `json:"at,omitempty"`
}

// App names the application behind the tick. Without an AppName it is the
// last " - " segment of the window title, where desktop apps put their own
// name ("main.go - Visual Studio Code").
func (t Tick) App() string {
	if name := strings.TrimSpace(t.AppName); name != "" {
		return name
	}
	title := strings.TrimSpace(t.WindowTitle)
	if i := strings.LastIndex(title, " - "); i >= 0 {
		if app := strings.TrimSpace(title[i+3:]); app != "" {
			return app
		}
	}
	return title
}
