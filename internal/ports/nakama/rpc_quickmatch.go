package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// QuickMatchResponse is the payload returned to clients looking for a table.
type QuickMatchResponse struct {
	MatchID string `json:"match_id"`
	IsNew   bool   `json:"is_new"`
}

// quickMatchQuery requires an open Parchís match and prefers ones still in
// the lobby.
var quickMatchQuery = fmt.Sprintf("+label.%s:%s +label.%s:>=1 label.%s:lobby", LabelKeyGame, GameName, LabelKeyOpen, LabelKeyPhase)

// RegisterRPCs registers Nakama RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer) error {
	return initializer.RegisterRpc(RpcQuickMatch, rpcQuickMatch)
}

// matchFinder is the part of runtime.NakamaModule quick_match needs.
type matchFinder interface {
	MatchList(ctx context.Context, limit int, authoritative bool, label string, minSize, maxSize *int, query string) ([]*api.Match, error)
	MatchCreate(ctx context.Context, module string, params map[string]interface{}) (string, error)
}

func rpcQuickMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return quickMatch(ctx, logger, nk)
}

func quickMatch(ctx context.Context, logger runtime.Logger, nk matchFinder) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)

	minSize := 1
	maxSize := MaxPresences - 1
	matches, err := nk.MatchList(ctx, 10, true, "", &minSize, &maxSize, quickMatchQuery)
	if err != nil {
		logger.Error("quickMatch [User:%s]: MatchList error: %v", userID, err)
		return "", err
	}

	resp := QuickMatchResponse{}
	if len(matches) > 0 {
		resp.MatchID = matches[0].MatchId
		logger.Info("quickMatch [User:%s]: found match %s", userID, resp.MatchID)
	} else {
		resp.MatchID, err = nk.MatchCreate(ctx, MatchNameParchis, map[string]interface{}{})
		if err != nil {
			logger.Error("quickMatch [User:%s]: MatchCreate error: %v", userID, err)
			return "", err
		}
		resp.IsNew = true
		logger.Info("quickMatch [User:%s]: created match %s", userID, resp.MatchID)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
