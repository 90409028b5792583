package extractor

import (
	"regexp"

	"go.uber.org/zap"
)

// findRegex returns the first capture group of pattern in body, or the
// whole match when the pattern has no groups. No match yields "".
func findRegex(body []byte, pattern string, logger *zap.Logger) string {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		logger.Warn("invalid regex pattern", zap.String("pattern", pattern), zap.Error(err))
		return ""
	}

	match := regex.FindSubmatch(body)
	if match == nil {
		logger.Warn("regex pattern not found", zap.String("pattern", pattern))
		return ""
	}

	if len(match) > 1 {
		return string(match[1])
	}
	return string(match[0])
}
