package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/punchamoorthee/stayvista/internal/domain"
	"github.com/punchamoorthee/stayvista/internal/store"
)

const roomsCollection = "roomsCollection"

type roomDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Host        domain.Host        `bson:"host"`
	Price       float64            `bson:"price"`
	Booked      bool               `bson:"booked"`
	Title       string             `bson:"title"`
	Location    string             `bson:"location"`
	Category    string             `bson:"category"`
	Description string             `bson:"description,omitempty"`
	Image       string             `bson:"image,omitempty"`
	From        time.Time          `bson:"from,omitempty"`
	To          time.Time          `bson:"to,omitempty"`
	Guests      int                `bson:"guests"`
	Bedrooms    int                `bson:"bedrooms"`
	Bathrooms   int                `bson:"bathrooms"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

func (d roomDoc) toDomain() domain.Room {
	return domain.Room{
		ID:          d.ID.Hex(),
		Host:        d.Host,
		Price:       d.Price,
		Booked:      d.Booked,
		Title:       d.Title,
		Location:    d.Location,
		Category:    d.Category,
		Description: d.Description,
		Image:       d.Image,
		From:        d.From,
		To:          d.To,
		Guests:      d.Guests,
		Bedrooms:    d.Bedrooms,
		Bathrooms:   d.Bathrooms,
		CreatedAt:   d.CreatedAt,
	}
}

// RoomStore keeps the room catalog in MongoDB and serves the booked flag
// through conditional updates.
type RoomStore struct {
	client *mongo.Client
	rooms  *mongo.Collection
}

func Connect(ctx context.Context, uri, database string) (*RoomStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &RoomStore{client: client, rooms: client.Database(database).Collection(roomsCollection)}, nil
}

func (s *RoomStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *RoomStore) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.Room{}, store.ErrNotFound
	}
	var doc roomDoc
	if err := s.rooms.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Room{}, store.ErrNotFound
		}
		return domain.Room{}, fmt.Errorf("room query failed: %w", err)
	}
	return doc.toDomain(), nil
}

// TrySetBooked matches on the expected flag so only one writer can win.
func (s *RoomStore) TrySetBooked(ctx context.Context, id string, expected, booked bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": oid, "booked": expected},
		bson.M{"$set": bson.M{"booked": booked}},
	)
	if err != nil {
		return fmt.Errorf("room transition failed: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.rooms.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("room existence check failed: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *RoomStore) CreateRoom(ctx context.Context, r domain.Room) (domain.Room, error) {
	doc := roomDoc{
		ID:          primitive.NewObjectID(),
		Host:        r.Host,
		Price:       r.Price,
		Title:       r.Title,
		Location:    r.Location,
		Category:    r.Category,
		Description: r.Description,
		Image:       r.Image,
		From:        r.From,
		To:          r.To,
		Guests:      r.Guests,
		Bedrooms:    r.Bedrooms,
		Bathrooms:   r.Bathrooms,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.rooms.InsertOne(ctx, doc); err != nil {
		return domain.Room{}, fmt.Errorf("room insert failed: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *RoomStore) ListRooms(ctx context.Context, category string) ([]domain.Room, error) {
	filter := bson.M{}
	if category != "" {
		filter["category"] = category
	}
	return s.find(ctx, filter)
}

func (s *RoomStore) ListRoomsByHost(ctx context.Context, email string) ([]domain.Room, error) {
	return s.find(ctx, bson.M{"host.email": email})
}

func (s *RoomStore) find(ctx context.Context, filter bson.M) ([]domain.Room, error) {
	cur, err := s.rooms.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("room list failed: %w", err)
	}
	defer cur.Close(ctx)

	rooms := []domain.Room{}
	for cur.Next(ctx) {
		var doc roomDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("room decode failed: %w", err)
		}
		rooms = append(rooms, doc.toDomain())
	}
	return rooms, cur.Err()
}

func (s *RoomStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}
