package request

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is the shared client for price sources. It retries transport errors and 5xx replies.
var Request = resty.New().SetTransport(&http.Transport{
	Proxy: http.ProxyFromEnvironment, // 通用适配环境变量
}).
	SetTimeout(10 * time.Second).
	SetRetryCount(3).
	SetRetryWaitTime(200 * time.Millisecond).
	AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r == nil || r.StatusCode() >= http.StatusInternalServerError
	})
