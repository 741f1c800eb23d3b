package constants

import (
	"fmt"
	"runtime"
)

// 上游提供商标识（config_type）
const (
	ProviderAntigravity = "antigravity"
	ProviderCodex       = "codex"
	ProviderKiro        = "kiro"
	ProviderGeminiCLI   = "gemini-cli"
	ProviderQwen        = "qwen"
	ProviderZaiTTS      = "zai-tts"
	ProviderZaiImage    = "zai-image"

	// DefaultProvider is used when neither the principal nor the request
	// carries a provider marker.
	DefaultProvider = ProviderAntigravity
)

// AllProviders lists every pool tag in a stable order.
var AllProviders = []string{
	ProviderAntigravity,
	ProviderCodex,
	ProviderKiro,
	ProviderGeminiCLI,
	ProviderQwen,
	ProviderZaiTTS,
	ProviderZaiImage,
}

// Antigravity (cloudcode) 端点
const (
	AntigravityEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	AntigravityEndpointProd  = "https://cloudcode-pa.googleapis.com"

	// AntigravityDefaultProject backs accounts whose onboarding never
	// yielded a project id.
	AntigravityDefaultProject = "rising-fact-p41fc"

	AntigravityAPIClientHeader = "google-cloud-sdk vscode_cloudshelleditor/0.1"
	// AntigravityIDEType is the numeric ideType carried in Client-Metadata.
	AntigravityIDEType = 6
)

// AntigravityUserAgent 返回按宿主平台拼接的 UA。
func AntigravityUserAgent() string {
	return fmt.Sprintf("antigravity/1.16.5 %s/%s", runtime.GOOS, runtime.GOARCH)
}

// Gemini CLI (Code Assist) 走 prod cloudcode 宿主，不参与 daily 回退
const (
	CodeAssistEndpoint = AntigravityEndpointProd

	GeminiCLIAPIClient = "gl-go"
)

// GeminiCLIUserAgent 返回模仿 gemini-cli 客户端的 UA。
func GeminiCLIUserAgent() string {
	return fmt.Sprintf("gemini-code-assist-cli/1.0.0 (%s; %s) %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// Google OAuth 端点（antigravity 与 gemini-cli 共用授权服务器，client 不同）
const (
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"

	AntigravityClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	AntigravityClientSecret = "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"

	GeminiCLIClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	GeminiCLIClientSecret = "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"

	GeminiCLIScopes = "https://www.googleapis.com/auth/cloud-platform https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile"
)

// Codex (ChatGPT backend) 端点
const (
	CodexResponsesURL = "https://chatgpt.com/backend-api/codex/responses"
	CodexHost         = "chatgpt.com"

	CodexAuthURL  = "https://auth.openai.com/oauth/authorize"
	CodexTokenURL = "https://auth.openai.com/oauth/token"
	CodexClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	CodexScopes   = "openid profile email offline_access"

	// CodexOriginator 与 UA 必须像 codex CLI，否则后端拒绝。
	CodexOriginator = "codex_cli_rs"
	CodexBetaValue  = "responses=experimental"
	CodexCLIVersion = "0.45.0"
)

// CodexUserAgent 返回仿 codex CLI 的 UA。
func CodexUserAgent() string {
	return fmt.Sprintf("codex_cli_rs/%s (%s; %s) unknown", CodexCLIVersion, runtime.GOOS, runtime.GOARCH)
}

// Kiro (CodeWhisperer) 端点，设备码流程走 AWS SSO OIDC
const (
	KiroGenerateURL = "https://codewhisperer.us-east-1.amazonaws.com/generateAssistantResponse"

	KiroOIDCBase      = "https://oidc.us-east-1.amazonaws.com"
	KiroRegisterURL   = KiroOIDCBase + "/client/register"
	KiroDeviceAuthURL = KiroOIDCBase + "/device_authorization"
	KiroTokenURL      = KiroOIDCBase + "/token"

	KiroStartURL = "https://view.awsapps.com/start"
	KiroScopes   = "codewhisperer:completions codewhisperer:analysis codewhisperer:conversations"

	KiroIDEVersion = "0.2.13"
)

// KiroUserAgent 返回仿 Kiro 编辑器的 UA。
func KiroUserAgent() string {
	return fmt.Sprintf("KiroIDE/%s (%s; %s)", KiroIDEVersion, runtime.GOOS, runtime.GOARCH)
}

// Qwen 端点（chat.qwen.ai 设备码，portal 承载推理）
const (
	QwenChatCompletionsURL = "https://portal.qwen.ai/v1/chat/completions"

	QwenDeviceCodeURL  = "https://chat.qwen.ai/api/v1/oauth2/device/code"
	QwenDeviceTokenURL = "https://chat.qwen.ai/api/v1/oauth2/token"
	QwenClientID       = "f0304373b74a44d2b584a3fb70ca9e56"
	QwenScopes         = "openid profile email model.completion"

	QwenCLIVersion = "0.0.14"
)

// QwenUserAgent 返回仿 qwen-code CLI 的 UA。
func QwenUserAgent() string {
	return fmt.Sprintf("QwenCode/%s (%s; %s)", QwenCLIVersion, runtime.GOOS, runtime.GOARCH)
}

// Z.AI 端点
const (
	ZaiAPIBase    = "https://api.z.ai/api/paas/v4"
	ZaiSpeechPath = "/audio/speech"
	ZaiImagesPath = "/images/generations"
)

// KiroMinTrustLevel gates the kiro pool for non-beta users.
const KiroMinTrustLevel = 3
