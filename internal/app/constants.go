package app

import "parchis/internal/domain"

// MinPlayersToStartGame is the default lobby size that triggers an automatic start.
// Deployments may raise it through config, never above domain.MaxPlayers.
const MinPlayersToStartGame = domain.MinPlayers

// DefaultBcryptCost is used when no cost is configured.
const DefaultBcryptCost = 10
