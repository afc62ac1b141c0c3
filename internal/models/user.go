package models

// NotificationsModeMuted silences every channel for a profile.
const NotificationsModeMuted = "Muted"

// User is a platform user that may receive notifications.
type User struct {
	ID        string        `json:"id"`
	Login     string        `json:"login"`
	Enabled   bool          `json:"enabled"`
	Activated bool          `json:"activated"`
	Email     string        `json:"email,omitempty"`
	Phone     string        `json:"phone,omitempty"`
	Profiles  []UserProfile `json:"profiles"`
}

// UserProfile holds the notification preferences of a user.
type UserProfile struct {
	ID                string `json:"id"`
	NotificationsMode string `json:"notificationsMode"`
	ViaEmail          bool   `json:"receiveViaEmail"`
	ViaSMS            bool   `json:"receiveViaSms"`
}

// Muted returns true if the profile silences all notifications.
func (p UserProfile) Muted() bool {
	return p.NotificationsMode == NotificationsModeMuted
}
