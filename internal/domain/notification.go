package domain

import "time"

// NotificationRecord — факт уведомления надзорных органов об активации.
// Создается ровно один раз на активацию; подтверждения (ack) прилетают позже
// и дописываются по мере поступления.
type NotificationRecord struct {
	ID                  string               `json:"id"`
	ActivationID        string               `json:"activation_id"`
	NotifiedAuthorities []string             `json:"notified_authorities"`
	Payload             map[string]any       `json:"payload"`
	SentAt              time.Time            `json:"sent_at"`
	Acknowledgments     map[string]time.Time `json:"acknowledgments,omitempty"` // authority -> время ack
}

// Acknowledged сообщает, подтвердили ли получение все органы из списка.
func (n *NotificationRecord) Acknowledged() bool {
	for _, a := range n.NotifiedAuthorities {
		if _, ok := n.Acknowledgments[a]; !ok {
			return false
		}
	}
	return true
}
