package notifier

import "github.com/good-yellow-bee/blazealarm/internal/models"

// contact returns the address a channel delivers to.
func contact(u *models.User, ch models.Channel) string {
	switch ch {
	case models.ChannelEmail:
		return u.Email
	case models.ChannelSMS, models.ChannelWhatsApp:
		return u.Phone
	default:
		return u.Login
	}
}

// optedIn reports whether a profile accepts notifications on ch.
func optedIn(p models.UserProfile, ch models.Channel) bool {
	if p.Muted() {
		return false
	}
	switch ch {
	case models.ChannelEmail:
		return p.ViaEmail
	case models.ChannelSMS, models.ChannelWhatsApp:
		return p.ViaSMS
	default:
		return true
	}
}

// ineligibility returns why u cannot receive n on ch, or "" when it can.
func ineligibility(u *models.User, ch models.Channel, n *models.Notification) string {
	switch {
	case n.Recipient != "" && n.Recipient != u.ID && n.Recipient != u.Login:
		return "not the recipient"
	case !u.Enabled:
		return "user disabled"
	case !u.Activated:
		return "user not activated"
	case contact(u, ch) == "":
		return "no contact method"
	case len(u.Profiles) == 0:
		return "no profile"
	}
	for _, p := range u.Profiles {
		if optedIn(p, ch) {
			return ""
		}
	}
	return "opted out"
}

// Recipients filters users down to those eligible for n on ch.
func Recipients(users []*models.User, ch models.Channel, n *models.Notification) []*models.User {
	var out []*models.User
	for _, u := range users {
		if ineligibility(u, ch, n) == "" {
			out = append(out, u)
		}
	}
	return out
}
