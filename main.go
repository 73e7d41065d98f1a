package main

import (
	"log"
	"net/http"

	"coinhouse/api"
	"coinhouse/config"
	"coinhouse/contract"
	"coinhouse/db"
	"coinhouse/settle"
	"coinhouse/vault"
	"coinhouse/ws"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables")
	} else {
		log.Println("✅ Loaded environment variables from .env")
	}

	// Initialize database connections
	var store *db.Store
	if err := db.InitPostgres(); err != nil {
		log.Printf("⚠️  Warning: PostgreSQL initialization failed: %v", err)
		log.Println("   Round records and settlements will be disabled")
	} else {
		var err error
		if store, err = db.NewStore(); err != nil {
			log.Printf("⚠️  Warning: Store initialization failed: %v", err)
		}
	}
	defer db.ClosePostgres()

	var reservations *db.Reservations
	if err := db.InitRedis(); err != nil {
		log.Printf("⚠️  Warning: Redis initialization failed: %v", err)
		log.Println("   Wager reservations and the round cache will be disabled")
	} else {
		var err error
		if reservations, err = db.NewReservations(); err != nil {
			log.Printf("⚠️  Warning: Reservation store initialization failed: %v", err)
		}
	}
	defer db.CloseRedis()

	// Initialize vault contract client
	vaultClient, err := contract.NewVaultContract()
	if err != nil {
		log.Printf("⚠️  Warning: Vault contract initialization failed: %v", err)
		log.Println("   On-chain payouts and the vault indexer will be disabled")
	} else {
		defer vaultClient.Close()
	}

	// Vault ledger cache: periodic on-chain snapshots with share price
	var vaultCache *vault.Cache
	if vaultClient != nil {
		var snapStore vault.SnapshotStore
		if store != nil {
			snapStore = store
		}
		vaultCache = vault.NewCache(vaultClient, snapStore)
		vaultCache.Start()
		defer vaultCache.Stop()
	}

	// Settlement pipeline: exactly-once payout application with retry
	var worker *settle.Worker
	if store != nil {
		var pool settle.PoolView
		if vaultCache != nil {
			pool = vaultCache
		}
		var payer settle.Payer
		if vaultClient != nil {
			payer = vaultClient
		}
		worker = settle.NewWorker(store, pool, payer)
		worker.Start()
		defer worker.Stop()
	} else {
		log.Println("⚠️  Settlement worker disabled: no durable store")
	}

	if store == nil {
		log.Fatal("❌ Cannot serve game sessions without a durable round store")
	}

	var settler ws.Settler
	if worker != nil {
		settler = worker
	}
	var reserver ws.Reserver
	if reservations != nil {
		reserver = reservations
	}
	gateway := ws.NewGateway(store, settler, reserver)

	handlers := &api.Handlers{
		Store:   store,
		Cache:   reservations,
		Vault:   vaultCache,
		Clients: gateway.Registry(),
	}
	if worker != nil {
		handlers.Settler = worker
	}

	// WebSocket endpoint
	http.HandleFunc("/ws", gateway.HandleWS)

	// API endpoints
	http.HandleFunc("/api/health", handlers.HandleHealthCheck)
	http.HandleFunc("/api/rounds", handlers.HandleGetRound)
	http.HandleFunc("/api/rounds/recent", handlers.HandleRecentRounds)
	http.HandleFunc("/api/verify", handlers.HandleVerifyRound)
	http.HandleFunc("/api/settlement", handlers.HandleSettlementStatus)
	http.HandleFunc("/api/reservation", handlers.HandleGetReservation)
	http.HandleFunc("/api/vault", handlers.HandleVaultSnapshot)
	http.HandleFunc("/api/vault/history", handlers.HandleVaultHistory)

	addr := config.ServerHost + ":" + config.ServerPort
	log.Printf("🚀 Server starting on %s", addr)
	log.Println("")
	log.Println("📡 WebSocket Endpoints:")
	log.Println("   ws://localhost:8080/ws?address=0x... - Coinflip session")
	log.Println("   - Send 'submitCommitment' to open a round")
	log.Println("   - Send 'reveal' to resolve it")
	log.Println("")
	log.Println("🔌 API Endpoints:")
	log.Println("   GET  /api/health - Health check (Redis + PostgreSQL)")
	log.Println("   GET  /api/rounds?roundId=... - Round audit record")
	log.Println("   GET  /api/rounds/recent - Recent rounds (last 50)")
	log.Println("   GET  /api/verify?roundId=... - Recheck a round's fairness")
	log.Println("   GET  /api/settlement?roundId=... - Settlement status")
	log.Println("   GET  /api/reservation?address=... - Active wager hold")
	log.Println("   GET  /api/vault - Latest vault ledger snapshot")
	log.Println("   GET  /api/vault/history - Persisted snapshot history")
	log.Println("")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("❌ Server error:", err)
	}
}
