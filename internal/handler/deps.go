package handler

import (
	"buzzline/internal/app/chat"
	"buzzline/internal/app/store"
	"buzzline/internal/configs"
)

type AppDeps struct {
	Gateway *chat.MessageGateway
	Store   *store.Postgres
	Config  *configs.AppConfig
}
