package mongostore

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const hexID = "65ab0c1d2e3f405162738495"

func TestIDString(t *testing.T) {
	t.Parallel()

	oid, err := primitive.ObjectIDFromHex(hexID)
	if err != nil {
		t.Fatalf("ObjectIDFromHex() error: %v", err)
	}

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "u1", "u1"},
		{"object id", oid, hexID},
		{"number", int32(7), "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IDString(tt.in); got != tt.want {
				t.Errorf("IDString(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToDocumentObjectID(t *testing.T) {
	t.Parallel()

	oid, _ := primitive.ObjectIDFromHex(hexID)
	doc, err := toDocument(bson.M{"_id": oid, "city": "Pune"})
	if err != nil {
		t.Fatalf("toDocument() error: %v", err)
	}
	if doc.ID != hexID || string(doc.Data) != `{"city":"Pune"}` {
		t.Errorf("document = %s %s", doc.ID, doc.Data)
	}
}

func TestMatchID(t *testing.T) {
	t.Parallel()

	if got := matchID("u1"); got != "u1" {
		t.Errorf("matchID(u1) = %v, want plain string", got)
	}

	oid, _ := primitive.ObjectIDFromHex(hexID)
	want := bson.M{"$in": bson.A{hexID, oid}}
	if got := matchID(hexID); !reflect.DeepEqual(got, want) {
		t.Errorf("matchID(hex) = %v, want %v", got, want)
	}
}

func TestPageAfter(t *testing.T) {
	t.Parallel()

	t.Run("string cursor admits object ids", func(t *testing.T) {
		t.Parallel()

		want := bson.M{"$or": bson.A{
			bson.M{"_id": bson.M{"$gt": ""}},
			bson.M{"_id": bson.M{"$type": "objectId"}},
		}}
		if got := pageAfter(""); !reflect.DeepEqual(got, want) {
			t.Errorf("pageAfter(\"\") = %v, want %v", got, want)
		}
	})

	t.Run("object id cursor compares natively", func(t *testing.T) {
		t.Parallel()

		oid, _ := primitive.ObjectIDFromHex(hexID)
		want := bson.M{"_id": bson.M{"$gt": oid}}
		if got := pageAfter(hexID); !reflect.DeepEqual(got, want) {
			t.Errorf("pageAfter(hex) = %v, want %v", got, want)
		}
	})
}
