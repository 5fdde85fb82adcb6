package uploaders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

var defaultYouTubeTags = []string{"shorts", "story", "reddit"}

// YouTubeUploader publishes through the YouTube Data API with a stored OAuth
// token. Refreshed tokens are written back to tokenPath.
type YouTubeUploader struct {
	credentialsPath string
	tokenPath       string
}

func NewYouTubeUploader(credentialsPath, tokenPath string) *YouTubeUploader {
	if credentialsPath == "" {
		credentialsPath = "client_secrets.json"
	}
	if tokenPath == "" {
		tokenPath = "token.json"
	}
	return &YouTubeUploader{
		credentialsPath: credentialsPath,
		tokenPath:       tokenPath,
	}
}

func (y *YouTubeUploader) Platform() string {
	return "youtube"
}

func (y *YouTubeUploader) fail(msg string, err error) (*UploadResult, error) {
	return &UploadResult{Platform: "youtube", Error: msg}, err
}

func (y *YouTubeUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	service, ts, err := y.authenticate(ctx)
	if err != nil {
		return y.fail(fmt.Sprintf("authentication failed: %v", err), err)
	}

	videoFile, err := os.Open(req.VideoPath)
	if err != nil {
		return y.fail(fmt.Sprintf("open video: %v", err), err)
	}
	defer videoFile.Close()

	privacy := req.Privacy
	if privacy == "" {
		privacy = "public"
	}
	tags := req.Tags
	if len(tags) == 0 {
		tags = defaultYouTubeTags
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       youtubeTitle(req.Title),
			Description: req.Description,
			Tags:        tags,
			CategoryId:  "24", // Entertainment
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	uploaded, err := service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(videoFile).
		Context(ctx).
		Do()
	if err != nil {
		return y.fail(fmt.Sprintf("upload failed: %v", err), err)
	}

	if tok, err := ts.Token(); err == nil {
		_ = y.saveToken(tok)
	}

	return &UploadResult{
		Success:  true,
		Platform: "youtube",
		URL:      "https://youtu.be/" + uploaded.Id,
		Details:  map[string]string{"id": uploaded.Id, "privacy": privacy},
	}, nil
}

// youtubeTitle cuts the title to the 100 characters the API accepts.
func youtubeTitle(s string) string {
	r := []rune(s)
	if len(r) <= 100 {
		return s
	}
	return string(r[:100])
}

func (y *YouTubeUploader) authenticate(ctx context.Context) (*youtube.Service, oauth2.TokenSource, error) {
	credBytes, err := os.ReadFile(y.credentialsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(credBytes, youtube.YoutubeUploadScope, youtube.YoutubeScope)
	if err != nil {
		return nil, nil, fmt.Errorf("parse credentials file: %w", err)
	}

	token, err := y.loadToken()
	if err != nil {
		return nil, nil, fmt.Errorf("read token %s: %w", y.tokenPath, err)
	}
	if !token.Valid() && token.RefreshToken == "" {
		return nil, nil, fmt.Errorf("token %s is expired and has no refresh token", y.tokenPath)
	}

	ts := config.TokenSource(ctx, token)
	service, err := youtube.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, nil, fmt.Errorf("create YouTube service: %w", err)
	}
	return service, ts, nil
}

func (y *YouTubeUploader) loadToken() (*oauth2.Token, error) {
	f, err := os.Open(y.tokenPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

func (y *YouTubeUploader) saveToken(token *oauth2.Token) error {
	f, err := os.Create(y.tokenPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(token)
}
