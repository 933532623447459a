package bot

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

// The ledger's queries run against a live server only; these check the
// documents it sends.
func TestUserLedgerDocuments(t *testing.T) {
	raw, err := bson.Marshal(userFilter(42))
	if err != nil {
		t.Fatal(err)
	}
	var filter struct {
		UserID int64 `bson:"user_id"`
	}
	if err := bson.Unmarshal(raw, &filter); err != nil {
		t.Fatal(err)
	}
	if filter.UserID != 42 {
		t.Fatalf("unexpected filter %v", bson.Raw(raw))
	}

	raw, err = bson.Marshal(downloadUpdate("ann"))
	if err != nil {
		t.Fatal(err)
	}
	var update struct {
		Inc         map[string]int    `bson:"$inc"`
		SetOnInsert map[string]string `bson:"$setOnInsert"`
	}
	if err := bson.Unmarshal(raw, &update); err != nil {
		t.Fatal(err)
	}
	if update.Inc["downloads"] != 1 || len(update.Inc) != 1 {
		t.Fatalf("expected downloads increment, got %v", update.Inc)
	}
	// the name is only written when the user is created
	if update.SetOnInsert["first_name"] != "ann" {
		t.Fatalf("unexpected $setOnInsert %v", update.SetOnInsert)
	}
}
