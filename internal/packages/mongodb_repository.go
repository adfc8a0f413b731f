package packages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sketchsage/server/internal/metrics"
)

// MongoDBRepository stores the package catalog in MongoDB.
type MongoDBRepository struct {
	client   *mongo.Client
	packages *mongo.Collection
	metrics  *metrics.Metrics
}

// NewMongoDBRepository connects and prepares the credit_packages collection.
func NewMongoDBRepository(connectionString, database string, m *metrics.Metrics) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoDBRepository{
		client:   client,
		packages: client.Database(database).Collection("credit_packages"),
		metrics:  m,
	}, nil
}

func (r *MongoDBRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

type mongoPackage struct {
	ID               string    `bson:"_id"`
	Name             string    `bson:"name"`
	Credits          int       `bson:"credits"`
	PriceUSD         int64     `bson:"price_usd"`
	PriceTRY         int64     `bson:"price_try"`
	StripePriceIDUSD string    `bson:"stripe_price_id_usd"`
	StripePriceIDTRY string    `bson:"stripe_price_id_try"`
	Active           bool      `bson:"is_active"`
	DisplayOrder     int       `bson:"display_order"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func toMongoPackage(p Package) mongoPackage {
	return mongoPackage{
		ID:               p.ID,
		Name:             p.Name,
		Credits:          p.Credits,
		PriceUSD:         p.PriceUSD,
		PriceTRY:         p.PriceTRY,
		StripePriceIDUSD: p.StripePriceIDUSD,
		StripePriceIDTRY: p.StripePriceIDTRY,
		Active:           p.Active,
		DisplayOrder:     p.DisplayOrder,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func (m mongoPackage) toPackage() Package {
	return Package{
		ID:               m.ID,
		Name:             m.Name,
		Credits:          m.Credits,
		PriceUSD:         m.PriceUSD,
		PriceTRY:         m.PriceTRY,
		StripePriceIDUSD: m.StripePriceIDUSD,
		StripePriceIDTRY: m.StripePriceIDTRY,
		Active:           m.Active,
		DisplayOrder:     m.DisplayOrder,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func (r *MongoDBRepository) GetPackage(ctx context.Context, id string) (Package, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_package", "mongodb")()

	var m mongoPackage
	err := r.packages.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Package{}, ErrPackageNotFound
	}
	if err != nil {
		return Package{}, fmt.Errorf("find package: %w", err)
	}
	return m.toPackage(), nil
}

func (r *MongoDBRepository) ListPackages(ctx context.Context) ([]Package, error) {
	return r.find(ctx, bson.M{"is_active": true})
}

func (r *MongoDBRepository) ListAllPackages(ctx context.Context) ([]Package, error) {
	return r.find(ctx, bson.M{})
}

func (r *MongoDBRepository) find(ctx context.Context, filter bson.M) ([]Package, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_packages", "mongodb")()

	cursor, err := r.packages.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "display_order", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Package
	for cursor.Next(ctx) {
		var m mongoPackage
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode package: %w", err)
		}
		out = append(out, m.toPackage())
	}
	return out, cursor.Err()
}

func (r *MongoDBRepository) CreatePackage(ctx context.Context, pkg Package) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_package", "mongodb")()

	if _, err := r.packages.InsertOne(ctx, toMongoPackage(pkg)); err != nil {
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) UpdatePackage(ctx context.Context, pkg Package) error {
	defer metrics.MeasureDBQuery(r.metrics, "update_package", "mongodb")()

	doc := toMongoPackage(pkg)
	doc.UpdatedAt = time.Now().UTC()
	result, err := r.packages.ReplaceOne(ctx, bson.M{"_id": pkg.ID}, doc)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrPackageNotFound
	}
	return nil
}

func (r *MongoDBRepository) DeletePackage(ctx context.Context, id string) error {
	defer metrics.MeasureDBQuery(r.metrics, "delete_package", "mongodb")()

	result, err := r.packages.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("deactivate package: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrPackageNotFound
	}
	return nil
}
