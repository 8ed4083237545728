package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joshsymonds/inboxrules/internal/rules"
)

// Labels stores a label set as a JSON array column.
type Labels []string

// Scan implements the sql.Scanner interface
func (l *Labels) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = Labels{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan labels: unsupported type %T", value)
	}
	if len(raw) == 0 {
		*l = Labels{}
		return nil
	}
	return json.Unmarshal(raw, l)
}

// Value implements the driver.Valuer interface
func (l Labels) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Has reports whether the set contains name.
func (l Labels) Has(name string) bool {
	for _, v := range l {
		if v == name {
			return true
		}
	}
	return false
}

// Record is one stored message snapshot.
type Record struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	MessageID    string     `gorm:"uniqueIndex;size:255;not null" json:"message_id"`
	ThreadID     string     `gorm:"size:255" json:"thread_id"`
	FromEmail    string     `gorm:"index;size:255" json:"from_email"`
	ToEmail      string     `json:"to_email"`
	Subject      string     `json:"subject"`
	MessageBody  string     `json:"message_body"`
	ReceivedDate *time.Time `gorm:"index" json:"received_date,omitempty"`
	// ReceivedNaive marks rows imported from sources that kept wall-clock
	// timestamps without a zone.
	ReceivedNaive bool      `gorm:"not null;default:false" json:"received_naive,omitempty"`
	IsRead        bool      `gorm:"not null;default:false" json:"is_read"`
	Labels        Labels    `gorm:"type:text" json:"labels"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName keeps the table name stable across drivers.
func (Record) TableName() string { return "emails" }

// Fields returns the view of the record the rule evaluator reads.
func (r Record) Fields() rules.Fields {
	f := rules.Fields{
		From:    r.FromEmail,
		Subject: r.Subject,
		Body:    r.MessageBody,
		Naive:   r.ReceivedNaive,
	}
	if r.ReceivedDate != nil {
		f.Received = *r.ReceivedDate
	}
	return f
}
