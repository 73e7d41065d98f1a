package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"coinhouse/config"
	"coinhouse/game"

	"github.com/redis/go-redis/v9"
)

var (
	// RedisClient is the global Redis client instance
	RedisClient *redis.Client
)

// ReservationData represents a reserved wager awaiting resolution.
// The TTL auto-releases reservations that outlive their round.
type ReservationData struct {
	RoundID    string    `json:"roundId"`
	Amount     int64     `json:"amount"`
	ReservedAt time.Time `json:"reservedAt"`
}

// InitRedis initializes the Redis client connection
func InitRedis() error {
	log.Println("🔌 Connecting to Redis...")

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			redisDB = db
		}
	}

	RedisClient = redis.NewClient(&redis.Options{
		Addr:         redisURL,
		Password:     redisPassword,
		DB:           redisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis connected successfully - URL: %s", redisURL)
	return nil
}

// CloseRedis closes the Redis connection
func CloseRedis() error {
	if RedisClient != nil {
		log.Println("🔌 Closing Redis connection...")
		return RedisClient.Close()
	}
	return nil
}

/* =========================
   WAGER RESERVATIONS
   Redis Key: reserve:{playerAddress}
========================= */

// Reservations tracks reserved wagers and open-round markers. It
// implements the gateway's Reserver boundary.
type Reservations struct{}

// NewReservations returns the reservation store. InitRedis must have
// succeeded first.
func NewReservations() (*Reservations, error) {
	if RedisClient == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	return &Reservations{}, nil
}

// ReserveWager holds a player's wager while their round is open
func (r *Reservations) ReserveWager(ctx context.Context, playerAddress, roundID string, amount int64) error {
	key := fmt.Sprintf(config.RedisReserveKey, playerAddress)

	data, err := json.Marshal(&ReservationData{
		RoundID:    roundID,
		Amount:     amount,
		ReservedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	if err := RedisClient.Set(ctx, key, data, config.ReserveTTL).Err(); err != nil {
		return fmt.Errorf("failed to reserve wager: %w", err)
	}

	log.Printf("🔒 Reserved wager - Player: %s, Round: %s, Amount: %d", playerAddress, roundID, amount)
	return nil
}

// ReleaseWager returns a reserved wager to the player's available
// balance (expired or voided rounds). The stored round id is checked
// before deleting: a displaced connection releasing its dead round must
// not erase a reservation the player's new connection just wrote.
func (r *Reservations) ReleaseWager(ctx context.Context, playerAddress, roundID string) error {
	key := fmt.Sprintf(config.RedisReserveKey, playerAddress)

	reservation, err := r.GetReservation(ctx, playerAddress)
	if err != nil {
		return err
	}
	if reservation == nil {
		return nil
	}
	if reservation.RoundID != roundID {
		log.Printf("🔒 Reservation for %s belongs to round %s, not releasing for %s",
			playerAddress, reservation.RoundID, roundID)
		return nil
	}

	if err := RedisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release wager: %w", err)
	}

	log.Printf("🔓 Released reserved wager - Player: %s, Round: %s", playerAddress, roundID)
	return nil
}

// GetReservation retrieves a player's active reservation, or nil
func (r *Reservations) GetReservation(ctx context.Context, playerAddress string) (*ReservationData, error) {
	key := fmt.Sprintf(config.RedisReserveKey, playerAddress)

	data, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	var reservation ReservationData
	if err := json.Unmarshal([]byte(data), &reservation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reservation: %w", err)
	}

	return &reservation, nil
}

/* =========================
   ROUND CACHE
========================= */

// CacheResolvedRound keeps a resolved round hot for the verify and
// status endpoints without a postgres read.
func (r *Reservations) CacheResolvedRound(ctx context.Context, round *game.Round) error {
	key := fmt.Sprintf(config.RedisResolvedRoundKey, round.RoundID)

	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	if err := RedisClient.Set(ctx, key, data, config.ResolvedRoundTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache round: %w", err)
	}

	return nil
}

// GetCachedRound retrieves a cached resolved round, or nil on miss
func (r *Reservations) GetCachedRound(ctx context.Context, roundID string) (*game.Round, error) {
	key := fmt.Sprintf(config.RedisResolvedRoundKey, roundID)

	data, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached round: %w", err)
	}

	var round game.Round
	if err := json.Unmarshal([]byte(data), &round); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached round: %w", err)
	}

	return &round, nil
}

/* =========================
   HEALTH CHECK
========================= */

// HealthCheck performs a Redis health check
func HealthCheck(ctx context.Context) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Ping(ctx).Err()
}
