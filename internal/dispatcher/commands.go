package dispatcher

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/redistd/redistd/internal/config"
	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/ops/hashops"
	"github.com/redistd/redistd/internal/ops/keyops"
	"github.com/redistd/redistd/internal/ops/listops"
	"github.com/redistd/redistd/internal/ops/setops"
	"github.com/redistd/redistd/internal/ops/stringops"
	"github.com/redistd/redistd/internal/ops/zsetops"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

// opsHandler is the shape of every transactional, ops-table-backed command:
// it runs inside txn.Client.ExecInTxn (fresh transaction for a standalone
// command, or the parent transaction under MULTI/EXEC or EVAL).
type opsHandler func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, asyncCfg keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error)

func wrongArgs(cmd string) (resp.Reply, error) { return resp.ErrWrongNumArgs(cmd), nil }

func parseFloat(b []byte) (float64, bool) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

var commandTable = map[string]opsHandler{
	// ---- string ----
	"GET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("get")
		}
		return stringops.Get(ctx, tx, codec, now, args[1])
	},
	"SET": cmdSet,
	"SETNX": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("setnx")
		}
		return stringops.SetNX(ctx, tx, codec, now, args[1], args[2])
	},
	"SETEX":  cmdSetexFactory(false),
	"PSETEX": cmdSetexFactory(true),
	"GETSET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("getset")
		}
		return stringops.GetSet(ctx, tx, codec, now, args[1], args[2])
	},
	"GETDEL": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("getdel")
		}
		return stringops.GetDel(ctx, tx, codec, now, args[1])
	},
	"STRLEN": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("strlen")
		}
		return stringops.StrLen(ctx, tx, codec, now, args[1])
	},
	"MGET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 2 {
			return wrongArgs("mget")
		}
		return stringops.MGet(ctx, tx, codec, now, args[1:])
	},
	"MSET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 || len(args)%2 != 1 {
			return wrongArgs("mset")
		}
		kvs := make([][2][]byte, 0, (len(args)-1)/2)
		for i := 1; i < len(args); i += 2 {
			kvs = append(kvs, [2][]byte{args[i], args[i+1]})
		}
		return stringops.MSet(ctx, tx, codec, kvs)
	},
	"INCR": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("incr")
		}
		return stringops.IncrBy(ctx, tx, codec, now, args[1], 1)
	},
	"DECR": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("decr")
		}
		return stringops.IncrBy(ctx, tx, codec, now, args[1], -1)
	},
	"INCRBY": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("incrby")
		}
		n, ok := parseInt(args[2])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return stringops.IncrBy(ctx, tx, codec, now, args[1], n)
	},
	"DECRBY": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("decrby")
		}
		n, ok := parseInt(args[2])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return stringops.IncrBy(ctx, tx, codec, now, args[1], -n)
	},

	// ---- hash ----
	"HSET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 4 || len(args)%2 != 0 {
			return wrongArgs("hset")
		}
		pairs := make([][2][]byte, 0, (len(args)-2)/2)
		for i := 2; i < len(args); i += 2 {
			pairs = append(pairs, [2][]byte{args[i], args[i+1]})
		}
		return hashops.HSet(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], pairs)
	},
	"HSETNX": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("hsetnx")
		}
		return hashops.HSetNX(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], args[2], args[3])
	},
	"HGET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("hget")
		}
		return hashops.HGet(ctx, tx, codec, now, args[1], args[2])
	},
	"HMGET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("hmget")
		}
		return hashops.HMGet(ctx, tx, codec, now, args[1], args[2:])
	},
	"HEXISTS": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("hexists")
		}
		return hashops.HExists(ctx, tx, codec, now, args[1], args[2])
	},
	"HSTRLEN": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("hstrlen")
		}
		return hashops.HStrLen(ctx, tx, codec, now, args[1], args[2])
	},
	"HDEL": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("hdel")
		}
		return hashops.HDel(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], args[2:])
	},
	"HLEN": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("hlen")
		}
		return hashops.HLen(ctx, tx, codec, now, args[1])
	},
	"HGETALL": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("hgetall")
		}
		return hashops.HGetAll(ctx, tx, codec, now, args[1])
	},
	"HKEYS": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("hkeys")
		}
		return hashops.HKeys(ctx, tx, codec, now, args[1])
	},
	"HVALS": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("hvals")
		}
		return hashops.HVals(ctx, tx, codec, now, args[1])
	},
	"HINCRBY": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("hincrby")
		}
		n, ok := parseInt(args[3])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return hashops.HIncrBy(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], args[2], n)
	},
	"HRANDFIELD": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 && len(args) != 3 {
			return wrongArgs("hrandfield")
		}
		var count *int64
		if len(args) == 3 {
			n, ok := parseInt(args[2])
			if !ok {
				return resp.ErrNotInteger, nil
			}
			count = &n
		}
		return hashops.HRandField(ctx, tx, codec, now, args[1], count)
	},

	// ---- list ----
	"LPUSH":  cmdPushFactory(true, false),
	"RPUSH":  cmdPushFactory(false, false),
	"LPUSHX": cmdPushFactory(true, true),
	"RPUSHX": cmdPushFactory(false, true),
	"LPOP":   cmdPopFactory(true),
	"RPOP":   cmdPopFactory(false),
	"LLEN": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("llen")
		}
		return listops.LLen(ctx, tx, codec, now, args[1])
	},
	"LINDEX": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("lindex")
		}
		idx, ok := parseInt(args[2])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return listops.LIndex(ctx, tx, codec, now, args[1], idx)
	},
	"LSET": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("lset")
		}
		idx, ok := parseInt(args[2])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return listops.LSet(ctx, tx, codec, now, args[1], idx, args[3])
	},
	"LRANGE": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("lrange")
		}
		start, ok1 := parseInt(args[2])
		stop, ok2 := parseInt(args[3])
		if !ok1 || !ok2 {
			return resp.ErrNotInteger, nil
		}
		return listops.LRange(ctx, tx, codec, now, args[1], start, stop)
	},
	"LTRIM": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("ltrim")
		}
		start, ok1 := parseInt(args[2])
		stop, ok2 := parseInt(args[3])
		if !ok1 || !ok2 {
			return resp.ErrNotInteger, nil
		}
		return listops.LTrim(ctx, tx, codec, now, args[1], start, stop)
	},
	"LREM": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("lrem")
		}
		count, ok := parseInt(args[2])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return listops.LRem(ctx, tx, codec, now, args[1], count, args[3], cfg.CmdLremLengthLimit)
	},
	"LINSERT": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 5 {
			return wrongArgs("linsert")
		}
		var before bool
		switch strings.ToUpper(string(args[2])) {
		case "BEFORE":
			before = true
		case "AFTER":
			before = false
		default:
			return resp.ErrSyntax, nil
		}
		return listops.LInsert(ctx, tx, codec, now, args[1], before, args[3], args[4], cfg.CmdLinsertLengthLimit)
	},

	// ---- set ----
	"SADD": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("sadd")
		}
		return setops.SAdd(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], args[2:])
	},
	"SREM": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("srem")
		}
		return setops.SRem(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], args[2:])
	},
	"SCARD": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("scard")
		}
		return setops.SCard(ctx, tx, codec, now, args[1])
	},
	"SMEMBERS": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("smembers")
		}
		return setops.SMembers(ctx, tx, codec, now, args[1])
	},
	"SISMEMBER": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("sismember")
		}
		return setops.SIsMember(ctx, tx, codec, now, args[1], args[2])
	},
	"SMISMEMBER": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("smismember")
		}
		return setops.SMIsMember(ctx, tx, codec, now, args[1], args[2:])
	},
	"SPOP": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 && len(args) != 3 {
			return wrongArgs("spop")
		}
		var count *int64
		if len(args) == 3 {
			n, ok := parseInt(args[2])
			if !ok {
				return resp.ErrNotInteger, nil
			}
			count = &n
		}
		return setops.SPop(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], count)
	},
	"SRANDMEMBER": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 && len(args) != 3 {
			return wrongArgs("srandmember")
		}
		var count *int64
		if len(args) == 3 {
			n, ok := parseInt(args[2])
			if !ok {
				return resp.ErrNotInteger, nil
			}
			count = &n
		}
		return setops.SRandMember(ctx, tx, codec, now, args[1], count)
	},

	// ---- zset ----
	"ZADD": cmdZAdd,
	"ZREM": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("zrem")
		}
		return zsetops.ZRem(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], args[2:])
	},
	"ZCARD": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("zcard")
		}
		return zsetops.ZCard(ctx, tx, codec, now, args[1])
	},
	"ZSCORE": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("zscore")
		}
		return zsetops.ZScore(ctx, tx, codec, now, args[1], args[2])
	},
	"ZMSCORE": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("zmscore")
		}
		return zsetops.ZMScore(ctx, tx, codec, now, args[1], args[2:])
	},
	"ZINCRBY": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("zincrby")
		}
		delta, ok := parseFloat(args[2])
		if !ok {
			return resp.ErrNotFloat, nil
		}
		return zsetops.ZIncrBy(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], delta, args[3])
	},
	"ZRANGE":    cmdZRangeFactory(false),
	"ZREVRANGE": cmdZRangeFactory(true),
	"ZRANGEBYSCORE":    cmdZRangeByScoreFactory(false),
	"ZREVRANGEBYSCORE": cmdZRangeByScoreFactory(true),
	"ZCOUNT": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("zcount")
		}
		r, ok := parseScoreRange(args[2], args[3])
		if !ok {
			return resp.ErrNotFloat, nil
		}
		return zsetops.ZCount(ctx, tx, codec, now, args[1], r)
	},
	"ZRANK": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("zrank")
		}
		return zsetops.ZRank(ctx, tx, codec, now, args[1], args[2], false)
	},
	"ZREVRANK": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("zrevrank")
		}
		return zsetops.ZRank(ctx, tx, codec, now, args[1], args[2], true)
	},
	"ZPOPMIN": cmdZPopFactory(false),
	"ZPOPMAX": cmdZPopFactory(true),
	"ZREMRANGEBYSCORE": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("zremrangebyscore")
		}
		r, ok := parseScoreRange(args[2], args[3])
		if !ok {
			return resp.ErrNotFloat, nil
		}
		return zsetops.ZRemRangeByScore(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], r)
	},
	"ZREMRANGEBYRANK": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 {
			return wrongArgs("zremrangebyrank")
		}
		start, ok1 := parseInt(args[2])
		stop, ok2 := parseInt(args[3])
		if !ok1 || !ok2 {
			return resp.ErrNotInteger, nil
		}
		return zsetops.ZRemRangeByRank(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], start, stop)
	},

	// ---- generic key ----
	"DEL": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, asyncCfg keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 2 {
			return wrongArgs("del")
		}
		return keyops.DelWithGC(ctx, tx, codec, now, args[1:], asyncCfg)
	},
	"EXISTS": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 2 {
			return wrongArgs("exists")
		}
		return keyops.Exists(ctx, tx, codec, now, args[1:])
	},
	"TTL": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("ttl")
		}
		return keyops.TTL(ctx, tx, codec, now, args[1], false)
	},
	"PTTL": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("pttl")
		}
		return keyops.TTL(ctx, tx, codec, now, args[1], true)
	},
	"EXPIRE":    cmdExpireFactory(false, false),
	"PEXPIRE":   cmdExpireFactory(true, false),
	"EXPIREAT":  cmdExpireFactory(false, true),
	"PEXPIREAT": cmdExpireFactory(true, true),
	"PERSIST": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("persist")
		}
		return keyops.Persist(ctx, tx, codec, now, args[1])
	},
	"TYPE": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 {
			return wrongArgs("type")
		}
		return keyops.Type(ctx, tx, codec, now, args[1])
	},
	"RENAME": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("rename")
		}
		return keyops.Rename(ctx, tx, codec, now, args[1], args[2])
	},
	"COPY": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 && len(args) != 4 {
			return wrongArgs("copy")
		}
		replace := false
		if len(args) == 4 {
			if strings.ToUpper(string(args[3])) != "REPLACE" {
				return resp.ErrSyntax, nil
			}
			replace = true
		}
		return keyops.Copy(ctx, tx, codec, now, args[1], args[2], replace)
	},
	"SCAN": func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 2 {
			return wrongArgs("scan")
		}
		var cursor []byte
		if string(args[1]) != "0" {
			cursor = args[1]
		}
		match := ""
		count := 0
		typeFilter := ""
		for i := 2; i < len(args); i += 2 {
			if i+1 >= len(args) {
				return resp.ErrSyntax, nil
			}
			switch strings.ToUpper(string(args[i])) {
			case "MATCH":
				match = string(args[i+1])
			case "COUNT":
				n, ok := parseInt(args[i+1])
				if !ok {
					return resp.ErrNotInteger, nil
				}
				count = int(n)
			case "TYPE":
				typeFilter = string(args[i+1])
			default:
				return resp.ErrSyntax, nil
			}
		}
		result, err := keyops.Scan(ctx, tx, codec, now, cursor, match, count, typeFilter)
		if err != nil {
			return nil, err
		}
		nextCursor := []byte("0")
		if result.Cursor != nil {
			nextCursor = result.Cursor
		}
		keys := make(resp.Array, len(result.Keys))
		for i, k := range result.Keys {
			keys[i] = resp.Bulk(k)
		}
		return resp.Array{resp.Bulk(nextCursor), keys}, nil
	},
}

func cmdSet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
	if len(args) < 3 {
		return wrongArgs("set")
	}
	var opts stringops.SetOptions
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "GET":
			opts.GetOld = true
		case "KEEPTTL":
			opts.KeepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) {
				return resp.ErrSyntax, nil
			}
			n, ok := parseInt(args[i+1])
			if !ok {
				return resp.ErrNotInteger, nil
			}
			i++
			switch strings.ToUpper(string(args[i-1])) {
			case "EX":
				opts.ExpireAtMs = now + n*1000
			case "PX":
				opts.ExpireAtMs = now + n
			case "EXAT":
				opts.ExpireAtMs = n * 1000
			case "PXAT":
				opts.ExpireAtMs = n
			}
		default:
			return resp.ErrSyntax, nil
		}
	}
	return stringops.Set(ctx, tx, codec, now, args[1], args[2], opts)
}

func cmdSetexFactory(millis bool) opsHandler {
	return func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		cmd := "setex"
		if millis {
			cmd = "psetex"
		}
		if len(args) != 4 {
			return wrongArgs(cmd)
		}
		ttl, ok := parseInt(args[2])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return stringops.SetEX(ctx, tx, codec, now, args[1], ttl, millis, args[3])
	}
}

func cmdPushFactory(left, requireExists bool) opsHandler {
	return func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 3 {
			return wrongArgs("push")
		}
		return listops.Push(ctx, tx, codec, now, args[1], args[2:], left, requireExists)
	}
}

func cmdPopFactory(left bool) opsHandler {
	return func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 && len(args) != 3 {
			return wrongArgs("pop")
		}
		var count *int64
		if len(args) == 3 {
			n, ok := parseInt(args[2])
			if !ok {
				return resp.ErrNotInteger, nil
			}
			count = &n
		}
		return listops.Pop(ctx, tx, codec, now, args[1], left, count)
	}
}

func cmdExpireFactory(millis, atAbsolute bool) opsHandler {
	return func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 3 {
			return wrongArgs("expire")
		}
		ttl, ok := parseInt(args[2])
		if !ok {
			return resp.ErrNotInteger, nil
		}
		return keyops.Expire(ctx, tx, codec, now, args[1], ttl, millis, atAbsolute)
	}
}

func cmdZAdd(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
	if len(args) < 4 {
		return wrongArgs("zadd")
	}
	var flags zsetops.ZAddFlags
	i := 2
loop:
	for ; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			flags.NX = true
		case "XX":
			flags.XX = true
		case "GT":
			flags.GT = true
		case "LT":
			flags.LT = true
		case "CH":
			flags.CH = true
		case "INCR":
			flags.Incr = true
		default:
			break loop
		}
	}
	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.ErrSyntax, nil
	}
	pairs := make([]struct {
		Score  float64
		Member []byte
	}, 0, len(rest)/2)
	for j := 0; j < len(rest); j += 2 {
		score, ok := parseFloat(rest[j])
		if !ok {
			return resp.ErrNotFloat, nil
		}
		pairs = append(pairs, struct {
			Score  float64
			Member []byte
		}{Score: score, Member: rest[j+1]})
	}
	return zsetops.ZAdd(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], flags, pairs)
}

func parseScoreRange(minB, maxB []byte) (zsetops.ScoreRange, bool) {
	var r zsetops.ScoreRange
	minS, maxS := string(minB), string(maxB)
	if strings.HasPrefix(minS, "(") {
		r.MinExclusive = true
		minS = minS[1:]
	}
	if strings.HasPrefix(maxS, "(") {
		r.MaxExclusive = true
		maxS = maxS[1:]
	}
	var ok1, ok2 bool
	if minS == "-inf" {
		r.Min, ok1 = negInf, true
	} else if minS == "+inf" {
		r.Min, ok1 = posInf, true
	} else {
		r.Min, ok1 = parseFloat([]byte(minS))
	}
	if maxS == "-inf" {
		r.Max, ok2 = negInf, true
	} else if maxS == "+inf" {
		r.Max, ok2 = posInf, true
	} else {
		r.Max, ok2 = parseFloat([]byte(maxS))
	}
	return r, ok1 && ok2
}

var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
)

func cmdZRangeFactory(rev bool) opsHandler {
	return func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 4 && len(args) != 5 {
			return wrongArgs("zrange")
		}
		start, ok1 := parseInt(args[2])
		stop, ok2 := parseInt(args[3])
		if !ok1 || !ok2 {
			return resp.ErrNotInteger, nil
		}
		withScores := false
		if len(args) == 5 {
			if strings.ToUpper(string(args[4])) != "WITHSCORES" {
				return resp.ErrSyntax, nil
			}
			withScores = true
		}
		return zsetops.ZRange(ctx, tx, codec, now, args[1], start, stop, rev, withScores)
	}
}

func cmdZRangeByScoreFactory(rev bool) opsHandler {
	return func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, _ config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) < 4 {
			return wrongArgs("zrangebyscore")
		}
		r, ok := parseScoreRange(args[2], args[3])
		if !ok {
			return resp.ErrNotFloat, nil
		}
		withScores := false
		var offset, count int64 = 0, -1
		for i := 4; i < len(args); i++ {
			switch strings.ToUpper(string(args[i])) {
			case "WITHSCORES":
				withScores = true
			case "LIMIT":
				if i+2 >= len(args) {
					return resp.ErrSyntax, nil
				}
				var ok1, ok2 bool
				offset, ok1 = parseInt(args[i+1])
				count, ok2 = parseInt(args[i+2])
				if !ok1 || !ok2 {
					return resp.ErrNotInteger, nil
				}
				i += 2
			default:
				return resp.ErrSyntax, nil
			}
		}
		return zsetops.ZRangeByScore(ctx, tx, codec, now, args[1], r, rev, withScores, offset, count)
	}
}

func cmdZPopFactory(max bool) opsHandler {
	return func(ctx context.Context, tx store.Txn, codec *keycodec.Codec, now int64, _ keyops.AsyncDeleteConfig, cfg config.Config, args [][]byte) (resp.Reply, error) {
		if len(args) != 2 && len(args) != 3 {
			return wrongArgs("zpop")
		}
		count := int64(1)
		if len(args) == 3 {
			n, ok := parseInt(args[2])
			if !ok {
				return resp.ErrNotInteger, nil
			}
			count = n
		}
		return zsetops.ZPop(ctx, tx, codec, now, cfg.MetaKeyNumber, args[1], count, max)
	}
}
