package reservation

import (
	"context"
	"errors"
	"time"

	"consulta/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository persists reservations with bson.M filters,
// FindOneAndUpdate for atomic transitions, and ErrNoDocuments
// translated to a sentinel.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{col: db.Collection("reservations")}
}

func (r *MongoRepository) Create(ctx context.Context, res models.Reservation) error {
	overlapping, err := r.ListOverlapping(ctx, res.ExpertID, res.StartInstant, res.EndInstant)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		return ErrOverlap
	}
	_, err = r.col.InsertOne(ctx, res)
	return err
}

func (r *MongoRepository) Get(ctx context.Context, id models.ReservationID) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.col.FindOne(ctx, bson.M{"id": id}).Decode(&res); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

func (r *MongoRepository) TransitionStatus(ctx context.Context, id models.ReservationID, fromStatuses []models.ReservationStatus, to models.ReservationStatus) (bool, error) {
	res := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id, "status": bson.M{"$in": fromStatuses}},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MongoRepository) MarkPendingVoucher(ctx context.Context, id models.ReservationID, graceExpires time.Time) (bool, error) {
	res := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id, "status": models.ReservationHeld},
		bson.M{"$set": bson.M{"pendingVoucher": true, "voucherGraceExpires": graceExpires}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MongoRepository) GetBySessionID(ctx context.Context, sessionID models.SessionID) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.col.FindOne(ctx, bson.M{"paymentSessionId": sessionID}).Decode(&res); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

func (r *MongoRepository) SetPaymentSession(ctx context.Context, id models.ReservationID, sessionID models.SessionID) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"paymentSessionId": sessionID}})
	return err
}

func (r *MongoRepository) ConfirmWithPayment(ctx context.Context, id models.ReservationID, capturedPaymentID string) (bool, error) {
	res := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id, "status": models.ReservationHeld},
		bson.M{"$set": bson.M{"status": models.ReservationConfirmed, "capturedPaymentId": capturedPaymentID}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MongoRepository) ListOverlapping(ctx context.Context, expertID models.ExpertID, start, end time.Time) ([]models.Reservation, error) {
	cur, err := r.col.Find(ctx, bson.M{
		"expertId": expertID,
		"status":   bson.M{"$in": []models.ReservationStatus{models.ReservationHeld, models.ReservationConfirmed}},
		"startInstant": bson.M{"$lt": end},
		"endInstant":   bson.M{"$gt": start},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Reservation
	for cur.Next(ctx) {
		var res models.Reservation
		if err := cur.Decode(&res); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, cur.Err()
}

func (r *MongoRepository) ClaimNextExpired(ctx context.Context, now time.Time) (*models.Reservation, error) {
	filter := bson.M{
		"status": models.ReservationHeld,
		"$or": []bson.M{
			{"pendingVoucher": bson.M{"$ne": true}, "expiresAt": bson.M{"$lte": now}},
			{"pendingVoucher": true, "voucherGraceExpires": bson.M{"$lte": now}},
		},
	}
	var res models.Reservation
	err := r.col.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"status": models.ReservationExpired}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&res)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}
