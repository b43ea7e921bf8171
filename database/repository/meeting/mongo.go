package meeting

import (
	"context"
	"errors"
	"time"

	"consulta/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{col: db.Collection("meetings")}
}

// EnsureIndexes creates the unique (expertId, startInstant) index backing
// the one-meeting-per-slot conflict guarantee for non-cancelled
// meetings. Call once at
// startup; Mongo rejects a second unique insert with a duplicate-key
// error that Create maps onto ErrConflict.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expertId", Value: 1}, {Key: "startInstant", Value: 1}},
		Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"cancelledAt": bson.M{"$exists": false}}),
	})
	return err
}

func (r *MongoRepository) Create(ctx context.Context, m models.Meeting) error {
	_, err := r.col.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func (r *MongoRepository) Get(ctx context.Context, id models.MeetingID) (*models.Meeting, error) {
	var m models.Meeting
	if err := r.col.FindOne(ctx, bson.M{"id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) GetByReservation(ctx context.Context, reservationID models.ReservationID) (*models.Meeting, error) {
	var m models.Meeting
	if err := r.col.FindOne(ctx, bson.M{"reservationId": reservationID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) Cancel(ctx context.Context, id models.MeetingID, at time.Time, by models.CancelActor, reason string) (*models.Meeting, error) {
	var m models.Meeting
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id, "cancelledAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"cancelledAt": at, "cancelledBy": by, "cancelReason": reason}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) SetTransferState(ctx context.Context, id models.MeetingID, state models.TransferState) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"transferState": state}})
	return err
}

func (r *MongoRepository) SetExternalCalendarEntry(ctx context.Context, id models.MeetingID, externalID string) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"externalCalendarEntryId": externalID}})
	return err
}

func (r *MongoRepository) FindByExpert(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.Meeting, error) {
	return r.find(ctx, bson.M{"expertId": expertID, "startInstant": bson.M{"$gte": from, "$lt": to}})
}

func (r *MongoRepository) FindByGuest(ctx context.Context, guestID models.GuestID, from, to time.Time) ([]models.Meeting, error) {
	return r.find(ctx, bson.M{"guestId": guestID, "startInstant": bson.M{"$gte": from, "$lt": to}})
}

func (r *MongoRepository) ListOverlapping(ctx context.Context, expertID models.ExpertID, start, end time.Time) ([]models.Meeting, error) {
	return r.find(ctx, bson.M{
		"expertId":     expertID,
		"cancelledAt":  bson.M{"$exists": false},
		"startInstant": bson.M{"$lt": end},
		"endInstant":   bson.M{"$gt": start},
	})
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M) ([]models.Meeting, error) {
	cur, err := r.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Meeting
	for cur.Next(ctx) {
		var m models.Meeting
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, cur.Err()
}
