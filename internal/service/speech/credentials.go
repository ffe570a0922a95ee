package speech

import (
	"fmt"
	"net/http"
	"strings"

	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
)

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func resolveCredentials(cfg *speechmodel.Config) (string, string, error) {
	if cfg == nil {
		return "", "", fmt.Errorf("火山引擎语音配置未初始化")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", fmt.Errorf("火山引擎语音配置缺少 AppID 或 AccessToken")
	}

	return appID, token, nil
}

// authHeader 构造握手请求头
func authHeader(appID, token, resourceID, connectID string) http.Header {
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header
}
