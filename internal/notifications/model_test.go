package notifications

import (
	"testing"
	"time"
)

func TestHasRecipient(t *testing.T) {
	n := Notification{Recipients: []string{"u1", "u2"}}

	if !n.HasRecipient("u1") {
		t.Fatal("expected u1 to be a recipient")
	}
	if n.HasRecipient("u3") {
		t.Fatal("u3 is not a recipient")
	}
	if (Notification{}).HasRecipient("u1") {
		t.Fatal("empty recipient list must match nobody")
	}
}

func TestReadByUser(t *testing.T) {
	n := Notification{
		Recipients: []string{"u1", "u2"},
		ReadBy:     []ReadReceipt{{UserID: "u1", ReadAt: time.Now()}},
	}

	if !n.ReadByUser("u1") {
		t.Fatal("expected u1 to have a read receipt")
	}
	if n.ReadByUser("u2") {
		t.Fatal("u2 has not read the notification")
	}
}
