// Package logger provee un logger Zap singleton con scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia global inicializada con Init() en main.
//     La lógica de negocio recibe el logger vía contexto (From), nunca lo
//     construye.
//   - Context scoping: cada request lleva un logger "scoped" con campos
//     propios (request_id, platform, user_id) sin crear un core nuevo.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Sanitización: los payloads con datos de upstream se pasan por
//     internal/sanitize ANTES de armar los campos; este paquete no
//     enmascara nada por sí mismo.
//
// # Uso
//
// Inicialización (una vez en main):
//
//	logger.Init(logger.Config{
//	    Env:   os.Getenv("APP_ENV"),   // "dev" o "prod"
//	    Level: os.Getenv("LOG_LEVEL"), // "debug", "info", "warn", "error"
//	})
//	defer logger.Sync()
//
// En handlers/managers (con contexto):
//
//	log := logger.From(ctx)
//	log.Info("token refreshed", logger.Platform(p), logger.UserID(uid))
package logger
