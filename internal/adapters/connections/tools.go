// Package connections expone la gestión de conexiones OAuth como tools del
// router: iniciar un flujo, completarlo, listar, desconectar y chequear salud.
package connections

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/adbridge/internal/connection"
	"github.com/dropDatabas3/adbridge/internal/domain"
	"github.com/dropDatabas3/adbridge/internal/mcp"
	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/oauth"
)

// Service publica los tools de conexión sobre un ConnectionManager.
type Service struct {
	mgr *connection.Manager
}

// NewService arma el service.
func NewService(mgr *connection.Manager) *Service {
	return &Service{mgr: mgr}
}

func schema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

var (
	propUserID = map[string]any{
		"type":        "string",
		"description": "Identificador del usuario",
	}
	propPlatform = map[string]any{
		"type":        "string",
		"description": "Plataforma: meta, google o shopify",
	}
)

// Register publica los cinco tools de conexión en el server.
func (s *Service) Register(srv *mcp.Server) {
	srv.RegisterTool("connect_platform",
		"Inicia la conexión OAuth con una plataforma y devuelve la URL de autorización",
		schema(map[string]any{
			"user_id":  propUserID,
			"platform": propPlatform,
			"redirect_uri": map[string]any{
				"type":        "string",
				"description": "URI de callback registrada (https)",
			},
			"shop": map[string]any{
				"type":        "string",
				"description": "Dominio de la tienda (sólo Shopify)",
			},
		}, "user_id", "platform", "redirect_uri"),
		s.connectPlatform)

	srv.RegisterTool("complete_connection",
		"Completa un flujo OAuth: verifica el state y canjea el code",
		schema(map[string]any{
			"state": map[string]any{
				"type":        "string",
				"description": "State devuelto por el provider en el callback",
			},
			"code": map[string]any{
				"type":        "string",
				"description": "Authorization code del callback",
			},
		}, "state", "code"),
		s.completeConnection)

	srv.RegisterTool("list_connections",
		"Lista las plataformas conectadas del usuario con su estado",
		schema(map[string]any{"user_id": propUserID}, "user_id"),
		s.listConnections)

	srv.RegisterTool("disconnect_platform",
		"Elimina la conexión y las credenciales de una plataforma",
		schema(map[string]any{
			"user_id":  propUserID,
			"platform": propPlatform,
		}, "user_id", "platform"),
		s.disconnectPlatform)

	srv.RegisterTool("check_connection_health",
		"Chequea la validez del token de una plataforma sin refrescarlo",
		schema(map[string]any{
			"user_id":  propUserID,
			"platform": propPlatform,
		}, "user_id", "platform"),
		s.checkHealth)
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func requireArgs(args map[string]any, keys ...string) error {
	for _, k := range keys {
		if argString(args, k) == "" {
			return mcperrors.NewInvalidParams(k + " requerido")
		}
	}
	return nil
}

func (s *Service) connectPlatform(ctx context.Context, args map[string]any) (any, error) {
	if err := requireArgs(args, "user_id", "platform", "redirect_uri"); err != nil {
		return nil, err
	}
	platform := domain.NormalizePlatform(argString(args, "platform"))
	shop := argString(args, "shop")

	authURL, err := s.mgr.GetOAuthURL(ctx,
		platform,
		argString(args, "user_id"),
		argString(args, "redirect_uri"),
		shop)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"platform": platform,
		"auth_url": authURL,
		"message":  fmt.Sprintf("Visitar la URL para autorizar el acceso a %s", platform),
	}, nil
}

func (s *Service) completeConnection(ctx context.Context, args map[string]any) (any, error) {
	if err := requireArgs(args, "state", "code"); err != nil {
		return nil, err
	}

	pending, err := s.mgr.VerifyState(ctx, argString(args, "state"))
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, mcperrors.NewInvalidParams("state inválido, vencido o ya usado")
	}

	if err := s.mgr.HandleOAuthCallback(ctx,
		pending.Platform,
		argString(args, "code"),
		pending.UserID,
		pending.RedirectURI,
		pending.Tenant); err != nil {
		return nil, err
	}

	return map[string]any{
		"platform":  pending.Platform,
		"user_id":   pending.UserID,
		"connected": true,
	}, nil
}

func (s *Service) listConnections(ctx context.Context, args map[string]any) (any, error) {
	if err := requireArgs(args, "user_id"); err != nil {
		return nil, err
	}

	conns, err := s.mgr.ListConnections(ctx, argString(args, "user_id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"connections": conns, "count": len(conns)}, nil
}

func (s *Service) disconnectPlatform(ctx context.Context, args map[string]any) (any, error) {
	if err := requireArgs(args, "user_id", "platform"); err != nil {
		return nil, err
	}
	platform := domain.NormalizePlatform(argString(args, "platform"))
	if _, err := oauth.LookupProvider(platform); err != nil {
		return nil, err
	}

	removed, err := s.mgr.DisconnectPlatform(ctx, platform, argString(args, "user_id"))
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("no había conexión con %s", platform)
	if removed {
		msg = fmt.Sprintf("conexión con %s eliminada", platform)
	}
	return map[string]any{
		"platform":     platform,
		"disconnected": removed,
		"message":      msg,
	}, nil
}

func (s *Service) checkHealth(ctx context.Context, args map[string]any) (any, error) {
	if err := requireArgs(args, "user_id", "platform"); err != nil {
		return nil, err
	}

	health, err := s.mgr.CheckConnectionHealth(ctx,
		argString(args, "platform"),
		argString(args, "user_id"))
	if err != nil {
		return nil, err
	}
	return health, nil
}
