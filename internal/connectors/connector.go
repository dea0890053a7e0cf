// Package connectors defines the remote completion service contract for alpaca.
package connectors

import (
	"context"
	"encoding/json"
)

// Operation is a single GraphQL request against the completion service.
type Operation struct {
	Name      string         `json:"operationName"`
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// Transport sends operations to the remote service.
type Transport interface {
	// Name returns the transport identifier.
	Name() string

	// Do sends op and returns the raw response payload. A nil, empty or
	// "null" payload means the service gave no usable answer; callers retry.
	Do(ctx context.Context, op Operation) (json.RawMessage, error)
}

// IsEmptyPayload reports whether a payload carries nothing usable.
func IsEmptyPayload(payload json.RawMessage) bool {
	s := string(payload)
	return len(payload) == 0 || s == "null" || s == "{}"
}

// Operation names used by the completion protocol.
const (
	OpChatView       = "ChatViewQuery"
	OpAddHumanMsg    = "AddHumanMessageMutation"
	OpChatPagination = "ChatPaginationQuery"
	OpAddMessageBrk  = "AddMessageBreakMutation"
)

// ChatViewQuery resolves (or creates) the chat for a bot.
func ChatViewQuery(bot string) Operation {
	return Operation{
		Name:  OpChatView,
		Query: chatViewQuery,
		Variables: map[string]any{
			"bot": bot,
		},
	}
}

// AddHumanMessage submits query to chatID on behalf of the user.
func AddHumanMessage(bot string, chatID int64, query string) Operation {
	return Operation{
		Name:  OpAddHumanMsg,
		Query: addHumanMessageMutation,
		Variables: map[string]any{
			"bot":           bot,
			"chatId":        chatID,
			"query":         query,
			"source":        nil,
			"withChatBreak": true,
		},
	}
}

// ChatPagination fetches the last n messages of the bot's chat.
func ChatPagination(bot string, last int) Operation {
	return Operation{
		Name:  OpChatPagination,
		Query: chatPaginationQuery,
		Variables: map[string]any{
			"before": nil,
			"bot":    bot,
			"last":   last,
		},
	}
}

// AddMessageBreak clears the conversation context of chatID.
func AddMessageBreak(chatID int64) Operation {
	return Operation{
		Name:  OpAddMessageBrk,
		Query: addMessageBreakMutation,
		Variables: map[string]any{
			"chatId": chatID,
		},
	}
}

const messageFragment = `fragment MessageFragment on Message {
    id
    __typename
    messageId
    text
    linkifiedText
    authorNickname
    state
    vote
    voteReason
    creationTime
    suggestedReplies
  }`

const chatViewQuery = `query ChatViewQuery($bot: String!) {
    chatOfBot(bot: $bot) {
      __typename
      ...ChatFragment
    }
  }
  fragment ChatFragment on Chat {
    __typename
    id
    chatId
    defaultBotNickname
    shouldShowDisclaimer
  }`

const addHumanMessageMutation = `mutation AddHumanMessageMutation($chatId: BigInt!, $bot: String!, $query: String!, $source: MessageSource, $withChatBreak: Boolean! = false) {
    messageEdgeCreate(
      chatId: $chatId
      bot: $bot
      query: $query
      source: $source
      withChatBreak: $withChatBreak
    ) {
      __typename
      message {
        __typename
        node {
          __typename
          ...MessageFragment
          chat {
            __typename
            id
            shouldShowDisclaimer
          }
        }
      }
      messageLimit {
        __typename
        canSend
        numMessagesRemaining
        resetTime
        shouldShowRemainingMessageCount
        shouldShowReminder
        shouldShowSubscriptionRationale
        dailyLimit
        dailyBalance
        monthlyLimit
        monthlyBalance
      }
      chatBreak {
        __typename
        node {
          __typename
          ...MessageFragment
        }
      }
    }
  }
  ` + messageFragment

const chatPaginationQuery = `query ChatPaginationQuery($bot: String!, $before: String, $last: Int! = 10) {
    chatOfBot(bot: $bot) {
      id
      __typename
      messagesConnection(before: $before, last: $last) {
        __typename
        pageInfo {
          __typename
          hasPreviousPage
        }
        edges {
          __typename
          node {
            __typename
            ...MessageFragment
          }
        }
      }
    }
  }
  ` + messageFragment

const addMessageBreakMutation = `mutation AddMessageBreakMutation($chatId: BigInt!) {
    messageBreakCreate(chatId: $chatId) {
      __typename
      message {
        __typename
        ...MessageFragment
      }
    }
  }
  ` + messageFragment
