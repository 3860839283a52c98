// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"database/sql"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gathrhq/chat/backend/chat"
	"github.com/gathrhq/chat/backend/config"
	"github.com/gathrhq/chat/backend/fanout"
	"github.com/gathrhq/chat/backend/handlers"
	"github.com/gathrhq/chat/backend/metrics"
	"github.com/gathrhq/chat/backend/middleware"
	"github.com/gathrhq/chat/backend/presence"
	"github.com/gathrhq/chat/backend/storage/postgres"
	redisq "github.com/gathrhq/chat/backend/storage/redis"
	"github.com/gathrhq/chat/backend/ws"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	// Database connection
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := postgres.NewStore(db)
	if err := store.Migrate(); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Redis backs the offline-notification handoff only; presence and
	// fan-out are in-process.
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})
	notify := redisq.NewNotifyQueue(rdb)

	reg := presence.NewRegistry()
	engine := fanout.NewEngine(store, reg, notify, log)
	engine.SetBatchSize(cfg.FanoutBatchSize)
	svc := chat.NewService(store, engine, log)

	verifier := middleware.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	roomHandler := handlers.NewRoomHandler(svc)
	messageHandler := handlers.NewMessageHandler(svc)
	fanoutHandler := handlers.NewFanoutHandler(engine)
	wsHandler := ws.NewHandler(reg, verifier.VerifyToken, svc, log)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.CORS)

	// API routes
	api := r.PathPrefix("/api/chat").Subrouter()
	api.Use(authMiddleware)

	// Room endpoints
	api.HandleFunc("/dm", roomHandler.CreateDM).Methods("POST")
	api.HandleFunc("/group", roomHandler.CreateGroup).Methods("POST")
	api.HandleFunc("/event", roomHandler.CreateEventRoom).Methods("POST")
	api.HandleFunc("/broadcast", roomHandler.CreateBroadcast).Methods("POST")
	api.HandleFunc("/rooms", roomHandler.ListRooms).Methods("GET")
	api.HandleFunc("/room/{roomId}", roomHandler.GetRoom).Methods("GET")
	api.HandleFunc("/room/{roomId}", roomHandler.DeleteRoom).Methods("DELETE")
	api.HandleFunc("/room/{roomId}/join", roomHandler.JoinRoom).Methods("POST")
	api.HandleFunc("/room/{roomId}/leave", roomHandler.LeaveRoom).Methods("POST")
	api.HandleFunc("/room/{roomId}/clear", roomHandler.ClearHistory).Methods("POST")

	// Message endpoints
	api.HandleFunc("/room/{roomId}/message", messageHandler.SendMessage).Methods("POST")
	api.HandleFunc("/room/{roomId}/messages", messageHandler.ListMessages).Methods("GET")
	api.HandleFunc("/room/{roomId}/read", messageHandler.MarkRead).Methods("POST")
	api.HandleFunc("/message/{messageId}", messageHandler.EditMessage).Methods("PUT")
	api.HandleFunc("/message/{messageId}", messageHandler.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/message/{messageId}/react", messageHandler.React).Methods("POST")
	api.HandleFunc("/unread", messageHandler.UnreadCounts).Methods("GET")

	// Internal hooks from the feed service; reachable only inside the
	// mesh, so no user auth.
	internal := r.PathPrefix("/internal/fanout").Subrouter()
	internal.HandleFunc("/feed", fanoutHandler.FeedUpdated).Methods("POST")
	internal.HandleFunc("/comment", fanoutHandler.FeedCommentUpdated).Methods("POST")

	// Websocket endpoint; auth happens in-band via identify.
	r.HandleFunc("/ws", wsHandler.ServeWS)

	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Health check (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	log.Info("chat server starting", "port", cfg.Port, "issuer", cfg.JWTIssuer)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
